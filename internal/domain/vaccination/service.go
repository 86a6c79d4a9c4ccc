package vaccination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/internal/platform/metrics"
	"github.com/amutrack/amutrack/internal/platform/notification"
	"github.com/amutrack/amutrack/pkg/calendar"
)

var (
	ErrTreatmentNotFound = errors.New("treatment not found")
	ErrNotVaccine        = errors.New("treatment is not a vaccine")
	ErrNoHistory         = errors.New("no vaccination history found for this treatment")
	ErrSuperseded        = errors.New("a newer dose has already been recorded")
	ErrFutureDate        = errors.New("given_date cannot be in the future")
	ErrForbidden         = errors.New("access denied")
)

// Notifier is satisfied by *notification.Service.
type Notifier interface {
	NotifyTemplate(ctx context.Context, id string, data map[string]string, n *notification.Notification) error
}

// TxRunner runs fn in a transaction carried by the context passed to fn.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	history    HistoryRepository
	inTx       TxRunner
	treatments TreatmentSource
	notifier   Notifier
	guard      notification.Guard
	log        zerolog.Logger
	today      func() calendar.Date
	windowDays int
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithTx makes the chain lock, head read and insert of a dose one
// transaction. Without it concurrent doses on one chain are not serialised.
func WithTx(run TxRunner) Option { return func(s *Service) { s.inTx = run } }

// WithGuard sets the once-per-day reminder guard.
func WithGuard(g notification.Guard) Option { return func(s *Service) { s.guard = g } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.today = func() calendar.Date { return calendar.Today(loc) } }
}

func WithClock(today func() calendar.Date) Option { return func(s *Service) { s.today = today } }

// WithReminderWindow sets how many days ahead reminders look.
func WithReminderWindow(days int) Option { return func(s *Service) { s.windowDays = days } }

func NewService(history HistoryRepository, treatments TreatmentSource, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		history:    history,
		treatments: treatments,
		inTx:       noTx,
		log:        log,
		today:      func() calendar.Date { return calendar.Today(time.UTC) },
		windowDays: 30,
	}
	for _, o := range opts {
		o(s)
	}
	if s.guard == nil {
		s.guard = notification.NewMemoryGuard()
	}
	return s
}

func (s *Service) Today() calendar.Date { return s.today() }

// -- Chain --

func (s *Service) History(ctx context.Context, treatmentID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	ref, err := s.treatment(ctx, treatmentID)
	if err != nil {
		return nil, 0, err
	}
	if err := authoriseRead(ctx, ref); err != nil {
		return nil, 0, err
	}
	return s.history.ListByTreatment(ctx, treatmentID, limit, offset)
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.history.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, err := s.treatment(ctx, e.TreatmentID)
	if err != nil {
		return nil, err
	}
	if err := authoriseRead(ctx, ref); err != nil {
		return nil, err
	}
	return e, nil
}

// GiveLatest records today's dose against the chain head of a vaccine
// treatment.
func (s *Service) GiveLatest(ctx context.Context, treatmentID uuid.UUID) (*Entry, error) {
	ref, err := s.treatment(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if err := authorise(ctx, ref); err != nil {
		return nil, err
	}
	if !ref.IsVaccine() {
		return nil, ErrNotVaccine
	}
	return s.advance(ctx, ref, nil, s.today())
}

// MarkDone records a dose following entry id, which must be the chain
// head. given defaults to today and may not be in the future.
func (s *Service) MarkDone(ctx context.Context, id uuid.UUID, given *calendar.Date) (*Entry, error) {
	entry, err := s.history.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, err := s.treatment(ctx, entry.TreatmentID)
	if err != nil {
		return nil, err
	}
	if err := authorise(ctx, ref); err != nil {
		return nil, err
	}

	today := s.today()
	on := today
	if given != nil {
		if given.After(today) {
			return nil, ErrFutureDate
		}
		on = *given
	}

	return s.advance(ctx, ref, &entry.ID, on)
}

// advance records a dose given on on. The chain is locked and its head
// read inside one transaction so concurrent doses on a chain serialise.
// A non-nil head must still be the chain head.
func (s *Service) advance(ctx context.Context, ref *TreatmentRef, head *uuid.UUID, on calendar.Date) (*Entry, error) {
	var next *Entry
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.history.LockChain(ctx, ref.ID); err != nil {
			return fmt.Errorf("lock vaccination chain: %w", err)
		}
		latest, err := s.history.Latest(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNoHistory
			}
			return err
		}
		if head != nil && latest.ID != *head {
			return ErrSuperseded
		}
		if err := Check(latest, on); err != nil {
			switch {
			case errors.Is(err, ErrCycleCompleted):
				metrics.RecordVaccinationAdvance("completed")
			case errors.Is(err, ErrNotDue):
				metrics.RecordVaccinationAdvance("not_due")
			}
			return err
		}

		next = NextEntry(latest, on)
		if err := s.history.Create(ctx, next); err != nil {
			metrics.RecordVaccinationAdvance("error")
			return fmt.Errorf("create vaccination history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordVaccinationAdvance("advanced")

	s.notify(ctx, notification.TemplateVaccinationGiven, ref, next, map[string]string{
		"given":    next.GivenDate.String(),
		"next_due": next.NextDueDate.String(),
	})
	return next, nil
}

// CreateFirst stores the first dose of a vaccine treatment. It joins the
// caller's transaction when ctx carries one.
func (s *Service) CreateFirst(ctx context.Context, ref *TreatmentRef, sched Schedule) (*Entry, error) {
	sched.EntityID = ref.EntityID
	sched.TreatmentID = ref.ID
	if sched.VaccineName == "" {
		sched.VaccineName = ref.Medicine
	}
	e, err := FirstEntry(sched)
	if err != nil {
		return nil, err
	}
	if err := s.history.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create vaccination history: %w", err)
	}
	s.notify(ctx, notification.TemplateVaccinationGiven, ref, e, map[string]string{
		"given":    e.GivenDate.String(),
		"next_due": e.NextDueDate.String(),
	})
	return e, nil
}

// Correct patches the dates of an existing entry in place. The entry
// keeps its position in the chain.
func (s *Service) Correct(ctx context.Context, id uuid.UUID, given, nextDue *calendar.Date) (*Entry, error) {
	entry, err := s.history.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, err := s.treatment(ctx, entry.TreatmentID)
	if err != nil {
		return nil, err
	}
	if err := authorise(ctx, ref); err != nil {
		return nil, err
	}
	if given == nil && nextDue == nil {
		return nil, fmt.Errorf("given_date or next_due_date is required")
	}

	if given != nil {
		if given.After(s.today()) {
			return nil, ErrFutureDate
		}
		entry.GivenDate = *given
		if nextDue == nil {
			entry.NextDueDate = calendar.AddDays(*given, entry.IntervalDays)
		}
	}
	if nextDue != nil {
		entry.NextDueDate = *nextDue
	}
	if entry.NextDueDate.Before(entry.GivenDate) {
		return nil, fmt.Errorf("next_due_date %s is before given_date %s", entry.NextDueDate, entry.GivenDate)
	}
	if err := s.history.UpdateDates(ctx, id, entry.GivenDate, entry.NextDueDate); err != nil {
		return nil, err
	}
	return entry, nil
}

// -- Due lists --

// Upcoming lists chain heads due within the next days days, excluding
// today. Heads whose cycle ends before the dose falls due are left out.
func (s *Service) Upcoming(ctx context.Context, f HeadFilter, days int) ([]*DueEntry, error) {
	if days <= 0 {
		days = s.windowDays
	}
	today := s.today()
	from := calendar.AddDays(today, 1)
	to := calendar.AddDays(today, days)
	f.DueFrom, f.DueTo = &from, &to
	return s.heads(ctx, f, today)
}

// Overdue lists chain heads whose due date has passed and whose cycle is
// still open. Superseded entries are never listed.
func (s *Service) Overdue(ctx context.Context, f HeadFilter) ([]*DueEntry, error) {
	today := s.today()
	to := calendar.AddDays(today, -1)
	f.DueFrom, f.DueTo = nil, &to
	return s.heads(ctx, f, today)
}

func (s *Service) heads(ctx context.Context, f HeadFilter, today calendar.Date) ([]*DueEntry, error) {
	items, err := s.history.ListHeads(ctx, f)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, d := range items {
		if CanAdvance(&d.Entry, d.NextDueDate).CycleComplete || CanAdvance(&d.Entry, today).CycleComplete {
			continue
		}
		d.DaysUntilDue = DaysUntilDue(&d.Entry, today)
		d.State = StateOf(&d.Entry, today)
		out = append(out, d)
	}
	return out, nil
}

// SendReminders notifies the owner of every upcoming or overdue chain
// head at most once per day per entry. It returns the number sent.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	today := s.today()
	sent := 0

	upcoming, err := s.Upcoming(ctx, HeadFilter{}, s.windowDays)
	if err != nil {
		return 0, fmt.Errorf("list upcoming: %w", err)
	}
	overdue, err := s.Overdue(ctx, HeadFilter{})
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	for _, batch := range []struct {
		kind     string
		template string
		items    []*DueEntry
	}{
		{"upcoming", notification.TemplateVaccinationUpcoming, upcoming},
		{"overdue", notification.TemplateVaccinationOverdue, overdue},
	} {
		for _, d := range batch.items {
			key := notification.ReminderKey(batch.kind, d.ID.String(), today.String())
			first, err := s.guard.First(ctx, key, 24*time.Hour)
			if err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("reminder guard failed")
				continue
			}
			if !first {
				continue
			}
			days := d.DaysUntilDue
			if days < 0 {
				days = -days
			}
			ref := &TreatmentRef{ID: d.TreatmentID, EntityID: d.EntityID, UserID: d.UserID}
			if s.notify(ctx, batch.template, ref, &d.Entry, map[string]string{
				"next_due": d.NextDueDate.String(),
				"days":     strconv.Itoa(days),
			}) {
				metrics.RecordReminder(batch.kind)
				sent++
			}
		}
	}
	return sent, nil
}

// -- helpers --

func (s *Service) treatment(ctx context.Context, id uuid.UUID) (*TreatmentRef, error) {
	ref, err := s.treatments.TreatmentRef(ctx, id)
	if err != nil {
		return nil, ErrTreatmentNotFound
	}
	return ref, nil
}

// notify reports whether the notification was stored. Failures are
// logged and never fail the dose.
func (s *Service) notify(ctx context.Context, template string, ref *TreatmentRef, e *Entry, data map[string]string) bool {
	if s.notifier == nil || ref.UserID == "" {
		return false
	}
	data["vaccine"] = e.VaccineName
	entityID, treatmentID, vaccID := e.EntityID, e.TreatmentID, e.ID
	err := s.notifier.NotifyTemplate(ctx, template, data, &notification.Notification{
		UserID:      ref.UserID,
		EntityID:    &entityID,
		TreatmentID: &treatmentID,
		VaccID:      &vaccID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("vacc_id", e.ID.String()).Str("template", template).Msg("vaccination notification failed")
		return false
	}
	return true
}

// authorise lets vets act on any chain. Farmers may act on treatments
// they recorded or that belong to their farm.
func authorise(ctx context.Context, ref *TreatmentRef) error {
	if auth.HasRole(ctx, auth.RoleVeterinarian) {
		return nil
	}
	return owner(ctx, ref)
}

// authoriseRead additionally lets authorities read any chain.
func authoriseRead(ctx context.Context, ref *TreatmentRef) error {
	if auth.HasRole(ctx, auth.RoleVeterinarian, auth.RoleAuthority) {
		return nil
	}
	return owner(ctx, ref)
}

func owner(ctx context.Context, ref *TreatmentRef) error {
	if uid := auth.UserIDFromContext(ctx); uid != "" && uid == ref.UserID {
		return nil
	}
	if farm := auth.FarmIDFromContext(ctx); farm != "" && ref.FarmID != nil && farm == ref.FarmID.String() {
		return nil
	}
	return ErrForbidden
}
