package treatment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/vaccination"
	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/internal/platform/metrics"
	"github.com/amutrack/amutrack/internal/platform/notification"
	"github.com/amutrack/amutrack/pkg/calendar"
)

// MessageLookupMiss is stored on AMU records the reference table cannot
// predict.
const MessageLookupMiss = "no residue reference data available"

var ErrForbidden = errors.New("access denied")

// ActiveTreatmentError rejects a treatment that would overlap one still
// running for the same animal or batch.
type ActiveTreatmentError struct {
	Until calendar.Date
}

func (e *ActiveTreatmentError) Error() string {
	return fmt.Sprintf("This animal/batch is currently undergoing treatment until %s. Cannot start new treatment during active treatment period.", e.Until)
}

// FirstDoser stores the first dose of a vaccine treatment. Satisfied by
// *vaccination.Service.
type FirstDoser interface {
	CreateFirst(ctx context.Context, ref *vaccination.TreatmentRef, sched vaccination.Schedule) (*vaccination.Entry, error)
}

// Notifier is satisfied by *notification.Service.
type Notifier interface {
	NotifyTemplate(ctx context.Context, id string, data map[string]string, n *notification.Notification) error
}

// TxRunner runs fn in a transaction carried by the context passed to fn.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	treatments   TreatmentRepository
	amu          AMURepository
	predictor    *residue.Predictor
	vaccinations FirstDoser
	notifier     Notifier
	inTx         TxRunner
	log          zerolog.Logger
	today        func() calendar.Date
}

type Option func(*Service)

func WithVaccinations(v FirstDoser) Option { return func(s *Service) { s.vaccinations = v } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithTx makes multi-row writes atomic. Without it they run unwrapped.
func WithTx(run TxRunner) Option { return func(s *Service) { s.inTx = run } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.today = func() calendar.Date { return calendar.Today(loc) } }
}

func WithClock(today func() calendar.Date) Option { return func(s *Service) { s.today = today } }

func NewService(treatments TreatmentRepository, amu AMURepository, predictor *residue.Predictor, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		treatments: treatments,
		amu:        amu,
		predictor:  predictor,
		inTx:       noTx,
		log:        log,
		today:      func() calendar.Date { return calendar.Today(time.UTC) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Today() calendar.Date { return s.today() }

// -- Treatments --

// Create stores a treatment. Vets create approved treatments, everyone
// else pending ones. Vaccines with an interval get their first dose in
// the same transaction.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Treatment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	t, sched, err := req.build()
	if err != nil {
		return nil, err
	}

	t.UserID = auth.UserIDFromContext(ctx)
	if t.FarmID == nil {
		if raw := auth.FarmIDFromContext(ctx); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				t.FarmID = &id
			}
		}
	}
	t.Status = StatusPending
	if auth.HasRole(ctx, auth.RoleVeterinarian) {
		t.Status = StatusApproved
		if t.VetID == "" {
			t.VetID = t.UserID
		}
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.checkGap(ctx, t, nil); err != nil {
			return err
		}
		if err := s.treatments.Create(ctx, t); err != nil {
			return fmt.Errorf("create treatment: %w", err)
		}
		if sched != nil && s.vaccinations != nil {
			if _, err := s.vaccinations.CreateFirst(ctx, t.Ref(), *sched); err != nil {
				return fmt.Errorf("create first vaccination: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("treatment_id", t.ID.String()).Str("entity_id", t.EntityID.String()).
		Str("status", string(t.Status)).Msg("treatment created")
	return t, nil
}

// checkGap rejects t when another treatment of the entity ends on or
// after t starts.
func (s *Service) checkGap(ctx context.Context, t *Treatment, exclude *uuid.UUID) error {
	until, err := s.treatments.ActiveUntil(ctx, t.EntityID, t.StartDate, exclude)
	if err != nil {
		return fmt.Errorf("check active treatment: %w", err)
	}
	if until != nil {
		return &ActiveTreatmentError{Until: *until}
	}
	return nil
}

// Get returns the treatment with its AMU records.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(ctx, t) {
		return nil, ErrForbidden
	}
	records, err := s.amu.ListByTreatment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list amu records: %w", err)
	}
	t.AMURecords = records
	return t, nil
}

func (s *Service) ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	items, total, err := s.treatments.ListByEntity(ctx, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := items[:0]
	for _, t := range items {
		if canRead(ctx, t) {
			out = append(out, t)
		}
	}
	if len(out) < len(items) {
		total -= len(items) - len(out)
	}
	return out, total, nil
}

// Update applies a corrective patch. When a predictor input changes every
// AMU record of the treatment takes the new inputs and is re-predicted.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*Treatment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canWrite(ctx, t) {
		return nil, ErrForbidden
	}
	oldStart := t.StartDate
	changed, err := req.apply(t)
	if err != nil {
		return nil, err
	}
	if !validStatuses[t.Status] {
		return nil, invalid("status", "oneof")
	}

	var records []*AMURecord
	err = s.inTx(ctx, func(ctx context.Context) error {
		if t.StartDate != oldStart {
			if err := s.checkGap(ctx, t, &t.ID); err != nil {
				return err
			}
		}
		if err := s.treatments.Update(ctx, t); err != nil {
			return fmt.Errorf("update treatment: %w", err)
		}
		list, err := s.amu.ListByTreatment(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list amu records: %w", err)
		}
		records = list
		if !changed {
			return nil
		}
		today := s.today()
		for _, a := range records {
			a.copyInputs(t)
			if err := s.amu.UpdateInputs(ctx, a); err != nil {
				return fmt.Errorf("update amu %s: %w", a.ID, err)
			}
			s.predict(a, today)
			if err := s.amu.ReplacePrediction(ctx, a); err != nil {
				return fmt.Errorf("replace prediction %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.AMURecords = records
	if changed {
		s.log.Info().Str("treatment_id", t.ID.String()).Int("repredicted", len(records)).Msg("treatment corrected")
	}
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canWrite(ctx, t) {
		return ErrForbidden
	}
	return s.treatments.Delete(ctx, id)
}

// -- AMU --

// AddAMU records antimicrobial use against a treatment and stores its
// residue prediction. A lookup miss keeps the record without tissue
// results.
func (s *Service) AddAMU(ctx context.Context, treatmentID uuid.UUID, req *AMURequest) (*AMURecord, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	t, err := s.treatments.GetByID(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if !canWrite(ctx, t) {
		return nil, ErrForbidden
	}
	a, err := req.record(t)
	if err != nil {
		return nil, err
	}

	pred := s.predict(a, s.today())
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.amu.Create(ctx, a); err != nil {
			return fmt.Errorf("create amu record: %w", err)
		}
		if err := s.amu.ReplacePrediction(ctx, a); err != nil {
			return fmt.Errorf("store prediction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if pred != nil && pred.Overdosage {
		s.alertOverdosage(ctx, t, a)
	}
	return a, nil
}

// predict evaluates a on day, applies the result and records metrics.
func (s *Service) predict(a *AMURecord, day calendar.Date) *residue.Prediction {
	p, ok := s.predictor.Predict(a.Input(day))
	if !ok {
		metrics.RecordLookupMiss()
		a.ApplyPrediction(nil)
		a.Message = MessageLookupMiss
		s.log.Debug().Str("species", a.Species).Str("medicine", a.Medicine).
			Str("matrix", string(a.Matrix)).Msg("no reference data for prediction")
		return nil
	}
	a.ApplyPrediction(p)
	metrics.RecordPrediction(a.Species, string(a.Matrix), string(p.RiskCategory))
	if p.Overdosage {
		metrics.RecordOverdosage(a.Species)
	}
	return p
}

func (s *Service) alertOverdosage(ctx context.Context, t *Treatment, a *AMURecord) {
	if s.notifier == nil || t.UserID == "" {
		return
	}
	entityID, treatmentID := a.EntityID, a.TreatmentID
	detail := fmt.Sprintf("%.2f %s x%d per day for %d days", a.DoseAmount, a.DoseUnit, a.FrequencyPerDay, a.DurationDays)
	err := s.notifier.NotifyTemplate(ctx, notification.TemplateOverdosage, map[string]string{
		"medicine": a.Medicine,
		"detail":   detail,
	}, &notification.Notification{UserID: t.UserID, EntityID: &entityID, TreatmentID: &treatmentID})
	if err != nil {
		s.log.Warn().Err(err).Str("amu_id", a.ID.String()).Msg("overdosage alert failed")
	}
}

func (s *Service) GetAMU(ctx context.Context, id uuid.UUID) (*AMURecord, error) {
	a, err := s.amu.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.treatments.GetByID(ctx, a.TreatmentID)
	if err != nil {
		return nil, err
	}
	if !canRead(ctx, t) {
		return nil, ErrForbidden
	}
	return a, nil
}

// ActiveWithdrawals lists AMU records still inside their withdrawal
// period today. Farmers only see their own farm or their own records.
func (s *Service) ActiveWithdrawals(ctx context.Context, farmID *uuid.UUID) ([]*Withdrawal, error) {
	f := WithdrawalFilter{FarmID: farmID, On: s.today()}
	if !auth.HasRole(ctx, auth.RoleVeterinarian, auth.RoleAuthority, auth.RoleDistributor, auth.RoleLaboratory) {
		if farmID == nil || auth.FarmIDFromContext(ctx) != farmID.String() {
			f.UserID = auth.UserIDFromContext(ctx)
		}
	}
	return s.amu.ListActiveWithdrawals(ctx, f)
}

// Preview runs the predictor without storing anything.
func (s *Service) Preview(req *PreviewRequest) (*residue.Prediction, bool, error) {
	if err := validateStruct(req); err != nil {
		return nil, false, err
	}
	p, ok := s.predictor.Predict(req.input(s.today()))
	return p, ok, nil
}

// -- access --

func canRead(ctx context.Context, t *Treatment) bool {
	if auth.HasRole(ctx, auth.RoleVeterinarian, auth.RoleAuthority, auth.RoleLaboratory) {
		return true
	}
	return owns(ctx, t)
}

func canWrite(ctx context.Context, t *Treatment) bool {
	if auth.HasRole(ctx, auth.RoleVeterinarian) {
		return true
	}
	return owns(ctx, t)
}

func owns(ctx context.Context, t *Treatment) bool {
	if uid := auth.UserIDFromContext(ctx); uid != "" && uid == t.UserID {
		return true
	}
	farm := auth.FarmIDFromContext(ctx)
	return farm != "" && t.FarmID != nil && farm == t.FarmID.String()
}
