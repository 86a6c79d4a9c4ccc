package treatment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/vaccination"
	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/internal/platform/notification"
	"github.com/amutrack/amutrack/pkg/calendar"
)

// -- Mock Repositories --

type mockTreatmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Treatment
	seq   int
}

func newMockTreatmentRepo() *mockTreatmentRepo {
	return &mockTreatmentRepo{items: make(map[uuid.UUID]*Treatment)}
}

func (m *mockTreatmentRepo) Create(_ context.Context, t *Treatment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	m.seq++
	t.CreatedAt = time.Unix(int64(m.seq), 0)
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTreatmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTreatmentRepo) Update(_ context.Context, t *Treatment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	cp.AMURecords = nil
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTreatmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockTreatmentRepo) ListByEntity(_ context.Context, entityID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Treatment
	for _, t := range m.items {
		if t.EntityID == entityID {
			cp := *t
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartDate.After(all[j].StartDate) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockTreatmentRepo) ActiveUntil(_ context.Context, entityID uuid.UUID, from calendar.Date, exclude *uuid.UUID) (*calendar.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *calendar.Date
	for _, t := range m.items {
		if t.EntityID != entityID || (exclude != nil && t.ID == *exclude) || t.EndDate.Before(from) {
			continue
		}
		if latest == nil || t.EndDate.After(*latest) {
			d := t.EndDate
			latest = &d
		}
	}
	return latest, nil
}

type mockAMURepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*AMURecord
	seq      int
	replaced int
	filter   WithdrawalFilter
}

func newMockAMURepo() *mockAMURepo {
	return &mockAMURepo{items: make(map[uuid.UUID]*AMURecord)}
}

func (m *mockAMURepo) Create(_ context.Context, a *AMURecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	m.seq++
	a.CreatedAt = time.Unix(int64(m.seq), 0)
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAMURepo) GetByID(_ context.Context, id uuid.UUID) (*AMURecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAMUNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAMURepo) list(match func(*AMURecord) bool) []*AMURecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AMURecord
	for _, a := range m.items {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockAMURepo) ListByTreatment(_ context.Context, treatmentID uuid.UUID) ([]*AMURecord, error) {
	return m.list(func(a *AMURecord) bool { return a.TreatmentID == treatmentID }), nil
}

func (m *mockAMURepo) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*AMURecord, error) {
	return m.list(func(a *AMURecord) bool { return a.EntityID == entityID }), nil
}

func (m *mockAMURepo) UpdateInputs(_ context.Context, a *AMURecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[a.ID]
	if !ok {
		return ErrAMUNotFound
	}
	stored.DoseAmount, stored.DoseUnit = a.DoseAmount, a.DoseUnit
	stored.FrequencyPerDay, stored.DurationDays = a.FrequencyPerDay, a.DurationDays
	stored.StartDate, stored.EndDate = a.StartDate, a.EndDate
	stored.Species, stored.Matrix, stored.Medicine = a.Species, a.Matrix, a.Medicine
	return nil
}

func (m *mockAMURepo) ReplacePrediction(_ context.Context, a *AMURecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return ErrAMUNotFound
	}
	m.replaced++
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAMURepo) ListActiveWithdrawals(_ context.Context, f WithdrawalFilter) ([]*Withdrawal, error) {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
	var out []*Withdrawal
	for _, a := range m.list(func(a *AMURecord) bool { return a.InWithdrawal(f.On) }) {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		out = append(out, &Withdrawal{
			AMUID: a.ID, TreatmentID: a.TreatmentID, EntityID: a.EntityID,
			Medicine: a.Medicine, SafeDate: *a.SafeDate,
			DaysRemaining: calendar.DaysBetween(f.On, *a.SafeDate),
		})
	}
	return out, nil
}

func (m *mockAMURepo) Search(_ context.Context, f SearchFilter) ([]*AMURecord, error) {
	return m.list(func(a *AMURecord) bool {
		return (f.Species == "" || a.Species == f.Species) &&
			(f.Risk == "" || (a.RiskCategory != nil && *a.RiskCategory == f.Risk))
	}), nil
}

type recordingDoser struct {
	scheds []vaccination.Schedule
	err    error
}

func (r *recordingDoser) CreateFirst(_ context.Context, ref *vaccination.TreatmentRef, sched vaccination.Schedule) (*vaccination.Entry, error) {
	if r.err != nil {
		return nil, r.err
	}
	sched.TreatmentID = ref.ID
	r.scheds = append(r.scheds, sched)
	return vaccination.FirstEntry(sched)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) NotifyTemplate(_ context.Context, id string, data map[string]string, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, id+":"+n.UserID+":"+data["medicine"])
	return nil
}

// -- Fixture --

type fixture struct {
	treatments *mockTreatmentRepo
	amu        *mockAMURepo
	doser      *recordingDoser
	notifier   *recordingNotifier
	txCalls    int
	svc        *Service
	today      calendar.Date
}

func newFixture(today calendar.Date) *fixture {
	f := &fixture{
		treatments: newMockTreatmentRepo(),
		amu:        newMockAMURepo(),
		doser:      &recordingDoser{},
		notifier:   &recordingNotifier{},
		today:      today,
	}
	f.svc = NewService(f.treatments, f.amu, residue.NewPredictor(reference.MustDefault()), zerolog.Nop(),
		WithVaccinations(f.doser),
		WithNotifier(f.notifier),
		WithClock(func() calendar.Date { return f.today }),
		WithTx(func(ctx context.Context, fn func(context.Context) error) error {
			f.txCalls++
			return fn(ctx)
		}),
	)
	return f
}

func d(y int, m time.Month, day int) calendar.Date {
	return calendar.Date{Year: y, Month: m, Day: day}
}

func input(dt calendar.Date) *calendar.Input {
	return &calendar.Input{Date: dt}
}

func asUser(user string, roles ...string) context.Context {
	return auth.WithIdentity(context.Background(), user, roles, "")
}

func oxyRequest(entity uuid.UUID, start calendar.Date) *CreateRequest {
	return &CreateRequest{
		EntityID:       entity.String(),
		Species:        "cattle",
		Matrix:         "meat",
		MedicationType: "antibiotic",
		Medicine:       "Oxytetracycline",
		DoseAmount:     10,
		DurationDays:   3,
		StartDate:      input(start),
	}
}

// -- Tests --

func TestCreate_StatusFollowsRole(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))

	tr, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tr.Status != StatusPending || tr.UserID != "farmer-1" {
		t.Errorf("farmer treatment: status %s user %s", tr.Status, tr.UserID)
	}
	if tr.DoseUnit != "mg/kg" || tr.FrequencyPerDay != 1 {
		t.Errorf("expected defaults mg/kg x1, got %s x%d", tr.DoseUnit, tr.FrequencyPerDay)
	}
	if tr.EndDate != d(2024, time.May, 1) {
		t.Errorf("expected end date derived from duration, got %s", tr.EndDate)
	}

	tr, err = f.svc.Create(asUser("vet-1", auth.RoleVeterinarian), oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tr.Status != StatusApproved || tr.VetID != "vet-1" {
		t.Errorf("vet treatment: status %s vet %s", tr.Status, tr.VetID)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)

	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		field  string
	}{
		{"bad entity", func(r *CreateRequest) { r.EntityID = "cow-7" }, "entity_id"},
		{"zero dose", func(r *CreateRequest) { r.DoseAmount = 0 }, "dose_amount"},
		{"zero duration", func(r *CreateRequest) { r.DurationDays = 0 }, "duration_days"},
		{"bad matrix", func(r *CreateRequest) { r.Matrix = "wool" }, "matrix"},
		{"no start", func(r *CreateRequest) { r.StartDate = nil }, "start_date"},
		{"end before start", func(r *CreateRequest) { r.EndDate = input(d(2024, time.April, 1)) }, "end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := oxyRequest(uuid.New(), d(2024, time.April, 29))
			tt.mutate(req)
			_, err := f.svc.Create(ctx, req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("expected failure on %s, got %v", tt.field, ve.Fields)
			}
		})
	}
}

func TestCreate_RejectsOverlappingTreatment(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	entity := uuid.New()

	if _, err := f.svc.Create(ctx, oxyRequest(entity, d(2024, time.April, 29))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.svc.Create(ctx, oxyRequest(entity, d(2024, time.May, 1)))
	var active *ActiveTreatmentError
	if !errors.As(err, &active) {
		t.Fatalf("expected ActiveTreatmentError, got %v", err)
	}
	if !strings.Contains(err.Error(), "until 2024-05-01") {
		t.Errorf("unexpected message: %s", err)
	}

	if _, err := f.svc.Create(ctx, oxyRequest(entity, d(2024, time.May, 2))); err != nil {
		t.Errorf("treatment after the previous one ended should be accepted: %v", err)
	}
	if _, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.May, 1))); err != nil {
		t.Errorf("other entities are unaffected: %v", err)
	}
}

func TestCreate_VaccineStartsSchedule(t *testing.T) {
	f := newFixture(d(2024, time.January, 1))
	interval, months := 30, 6
	req := &CreateRequest{
		EntityID:            uuid.NewString(),
		Species:             "cattle",
		Matrix:              "milk",
		MedicationType:      "vaccine",
		Medicine:            "FMD Vaccine",
		DoseAmount:          2,
		DoseUnit:            "ml",
		DurationDays:        1,
		StartDate:           input(d(2024, time.January, 1)),
		VaccineIntervalDays: &interval,
		VaccineTotalMonths:  &months,
	}
	tr, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.txCalls != 1 {
		t.Errorf("expected one transaction, got %d", f.txCalls)
	}
	if len(f.doser.scheds) != 1 || f.doser.scheds[0].TreatmentID != tr.ID {
		t.Fatalf("expected first dose for treatment, got %+v", f.doser.scheds)
	}
	if tr.NextDueDate == nil || *tr.NextDueDate != d(2024, time.January, 31) {
		t.Errorf("expected next due 2024-01-31, got %v", tr.NextDueDate)
	}
	if tr.VaccineEndDate == nil || *tr.VaccineEndDate != d(2024, time.July, 1) {
		t.Errorf("expected cycle end 2024-07-01, got %v", tr.VaccineEndDate)
	}
}

func TestCreate_FirstDoseErrorFailsCreate(t *testing.T) {
	f := newFixture(d(2024, time.January, 1))
	f.doser.err = errors.New("db down")
	interval := 30
	req := oxyRequest(uuid.New(), d(2024, time.January, 1))
	req.MedicationType, req.Medicine = "vaccine", "FMD Vaccine"
	req.VaccineIntervalDays = &interval

	if _, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), req); err == nil {
		t.Fatal("expected error from first dose")
	}
}

func TestCreate_InvalidSchedule(t *testing.T) {
	f := newFixture(d(2024, time.January, 1))
	interval := 30
	req := oxyRequest(uuid.New(), d(2024, time.January, 10))
	req.MedicationType, req.Medicine = "vaccine", "FMD Vaccine"
	req.VaccineIntervalDays = &interval
	req.VaccineEndDate = input(d(2024, time.January, 5))

	_, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), req)
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if len(f.treatments.items) != 0 {
		t.Error("treatment should not be stored")
	}
}

func TestAddAMU_StoresPrediction(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{})
	if err != nil {
		t.Fatalf("AddAMU: %v", err)
	}
	if a.RiskCategory == nil || *a.RiskCategory != residue.RiskUnsafe {
		t.Fatalf("expected unsafe, got %v", a.RiskCategory)
	}
	if a.WorstTissue == nil || *a.WorstTissue != "muscle" {
		t.Errorf("expected muscle, got %v", a.WorstTissue)
	}
	if a.WithdrawalDays == nil || *a.WithdrawalDays != 7 {
		t.Errorf("expected 7 withdrawal days, got %v", a.WithdrawalDays)
	}
	if a.SafeDate == nil || *a.SafeDate != calendar.AddDays(a.EndDate, *a.WithdrawalDays) {
		t.Errorf("safe date must equal end + withdrawal, got %v", a.SafeDate)
	}
	if len(a.Tissues) != 4 || a.Tissues[0].Tissue != "muscle" {
		t.Errorf("expected four meat tissues in order, got %+v", a.Tissues)
	}
	if a.ActiveIngredient != "oxytetracycline" {
		t.Errorf("expected active ingredient, got %q", a.ActiveIngredient)
	}
	if f.amu.replaced != 1 {
		t.Errorf("expected one ReplacePrediction, got %d", f.amu.replaced)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("no alert expected for a recommended dose, got %v", f.notifier.sent)
	}

	stored, err := f.svc.GetAMU(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAMU: %v", err)
	}
	if len(stored.Tissues) != 4 {
		t.Errorf("stored record lost its tissue results")
	}
}

func TestAddAMU_LookupMiss(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	req := oxyRequest(uuid.New(), d(2024, time.April, 29))
	req.Medicine = "Unlistedmycin"
	tr, err := f.svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 2; i++ {
		a, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{})
		if err != nil {
			t.Fatalf("AddAMU: %v", err)
		}
		if a.Message != MessageLookupMiss {
			t.Errorf("expected lookup miss message, got %q", a.Message)
		}
		if a.RiskCategory != nil || a.SafeDate != nil || len(a.Tissues) != 0 {
			t.Errorf("lookup miss must not carry a prediction: %+v", a)
		}
	}
	if len(f.amu.items) != 2 {
		t.Errorf("records should still be saved, got %d", len(f.amu.items))
	}
}

func TestAddAMU_OverdosageAlert(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dose := 25.0
	a, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{DoseAmount: &dose})
	if err != nil {
		t.Fatalf("AddAMU: %v", err)
	}
	if !a.Overdosage {
		t.Fatal("25 mg/kg oxytetracycline exceeds the 20 mg/kg maximum")
	}
	if !strings.Contains(a.Message, "Overdosage") {
		t.Errorf("message should mention the overdosage: %q", a.Message)
	}
	want := notification.TemplateOverdosage + ":farmer-1:Oxytetracycline"
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != want {
		t.Errorf("expected %q, got %v", want, f.notifier.sent)
	}
}

func TestAddAMU_OverridesInputs(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	days := 2
	a, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{DurationDays: &days})
	if err != nil {
		t.Fatalf("AddAMU: %v", err)
	}
	if a.DurationDays != 2 || a.EndDate != d(2024, time.April, 30) {
		t.Errorf("expected 2 days ending 2024-04-30, got %d ending %s", a.DurationDays, a.EndDate)
	}

	bad := 0.0
	_, err = f.svc.AddAMU(ctx, tr.ID, &AMURequest{DoseAmount: &bad})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error for zero dose, got %v", err)
	}
}

func TestUpdate_RepredictsOnInputChange(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{})
	if err != nil {
		t.Fatalf("AddAMU: %v", err)
	}

	reason := "mastitis"
	if _, err := f.svc.Update(ctx, tr.ID, &UpdateRequest{Reason: &reason}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.amu.replaced != 1 {
		t.Errorf("non-input change must not re-predict, got %d replaces", f.amu.replaced)
	}

	dose := 2.0
	updated, err := f.svc.Update(ctx, tr.ID, &UpdateRequest{DoseAmount: &dose})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.amu.replaced != 2 {
		t.Errorf("expected re-prediction, got %d replaces", f.amu.replaced)
	}
	if len(updated.AMURecords) != 1 {
		t.Fatalf("expected one record, got %d", len(updated.AMURecords))
	}
	a := updated.AMURecords[0]
	if a.DoseAmount != 2 {
		t.Errorf("record should take the corrected dose, got %v", a.DoseAmount)
	}
	if a.WithdrawalDays == nil || *a.WithdrawalDays >= *first.WithdrawalDays {
		t.Errorf("lower dose should shorten withdrawal: before %d after %v", *first.WithdrawalDays, a.WithdrawalDays)
	}
}

func TestUpdate_GapRuleIgnoresSelf(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	start := input(d(2024, time.April, 30))
	updated, err := f.svc.Update(ctx, tr.ID, &UpdateRequest{StartDate: start})
	if err != nil {
		t.Fatalf("moving a treatment within its own course: %v", err)
	}
	if updated.EndDate != d(2024, time.May, 2) {
		t.Errorf("end date should follow the new start, got %s", updated.EndDate)
	}
}

func TestAccessControl(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	tr, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := asUser("farmer-2", auth.RoleFarmer)
	if _, err := f.svc.Get(other, tr.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Get by other farmer: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.AddAMU(other, tr.ID, &AMURequest{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("AddAMU by other farmer: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(other, tr.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete by other farmer: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Get(asUser("auth-1", auth.RoleAuthority), tr.ID); err != nil {
		t.Errorf("authorities may read: %v", err)
	}
	if _, err := f.svc.AddAMU(asUser("vet-9", auth.RoleVeterinarian), tr.ID, &AMURequest{}); err != nil {
		t.Errorf("vets may record usage: %v", err)
	}
	if err := f.svc.Delete(asUser("farmer-1", auth.RoleFarmer), tr.ID); err != nil {
		t.Errorf("owner may delete: %v", err)
	}
	if _, err := f.svc.Get(asUser("farmer-1", auth.RoleFarmer), tr.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestActiveWithdrawals(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	tr, err := f.svc.Create(ctx, oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{}); err != nil {
		t.Fatalf("AddAMU: %v", err)
	}

	items, err := f.svc.ActiveWithdrawals(ctx, nil)
	if err != nil {
		t.Fatalf("ActiveWithdrawals: %v", err)
	}
	if f.amu.filter.UserID != "farmer-1" {
		t.Errorf("farmers are scoped to their own records, got %q", f.amu.filter.UserID)
	}
	if len(items) != 1 || items[0].DaysRemaining != 7 {
		t.Fatalf("expected one record with 7 days left, got %+v", items)
	}

	if _, err := f.svc.ActiveWithdrawals(asUser("dist-1", auth.RoleDistributor), nil); err != nil {
		t.Fatalf("ActiveWithdrawals: %v", err)
	}
	if f.amu.filter.UserID != "" {
		t.Errorf("distributors see every farm, got user filter %q", f.amu.filter.UserID)
	}

	f.today = d(2024, time.May, 8)
	items, _ = f.svc.ActiveWithdrawals(ctx, nil)
	if len(items) != 0 {
		t.Errorf("record is out of withdrawal on its safe date, got %+v", items)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	entity := uuid.New()

	if _, err := f.svc.Verify(context.Background(), entity); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown entity, got %v", err)
	}

	tr, err := f.svc.Create(ctx, oxyRequest(entity, d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, err := f.svc.Verify(context.Background(), entity)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Status != VerifyUnknown || v.MRLPass || v.TreatmentCount != 1 {
		t.Errorf("treatment without usage records is unknown, got %+v", v)
	}

	if _, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{}); err != nil {
		t.Fatalf("AddAMU: %v", err)
	}

	tests := []struct {
		today  calendar.Date
		status string
		days   int
	}{
		{d(2024, time.May, 1), VerifyFail, 7},
		{d(2024, time.May, 7), VerifyFail, 1},
		{d(2024, time.May, 8), VerifyPass, 0},
		{d(2024, time.June, 1), VerifyPass, 0},
	}
	for _, tt := range tests {
		f.today = tt.today
		v, err := f.svc.Verify(context.Background(), entity)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if v.Status != tt.status || v.DaysRemaining != tt.days {
			t.Errorf("%s: expected %s/%d, got %s/%d", tt.today, tt.status, tt.days, v.Status, v.DaysRemaining)
		}
		if v.WithdrawalFinishDate == nil || *v.WithdrawalFinishDate != d(2024, time.May, 8) {
			t.Errorf("expected finish 2024-05-08, got %v", v.WithdrawalFinishDate)
		}
		if v.RiskCategory == nil || *v.RiskCategory != residue.RiskUnsafe {
			t.Errorf("expected latest risk unsafe, got %v", v.RiskCategory)
		}
	}
}

func TestVerify_LookupMissesAreUnknown(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	ctx := asUser("farmer-1", auth.RoleFarmer)
	entity := uuid.New()
	req := oxyRequest(entity, d(2024, time.April, 29))
	req.Medicine = "Unlistedmycin"
	req.DurationDays = 10
	tr, err := f.svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{}); err != nil {
		t.Fatalf("AddAMU: %v", err)
	}

	v, err := f.svc.Verify(context.Background(), entity)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Status != VerifyUnknown || v.MRLPass {
		t.Errorf("course still running with no prediction must not pass, got %s pass=%v", v.Status, v.MRLPass)
	}
	if v.WithdrawalFinishDate != nil || len(v.Records) != 1 {
		t.Errorf("expected one record and no finish date, got %+v", v)
	}

	// A predicted record alongside the miss decides the status.
	if _, err := f.svc.AddAMU(ctx, tr.ID, &AMURequest{Medicine: "Oxytetracycline"}); err != nil {
		t.Fatalf("AddAMU: %v", err)
	}
	v, err = f.svc.Verify(context.Background(), entity)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Status != VerifyFail || v.WithdrawalFinishDate == nil {
		t.Errorf("expected FAIL with a finish date, got %s %v", v.Status, v.WithdrawalFinishDate)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	req := &PreviewRequest{
		Species: "cattle", MedicationType: "antibiotic", Medicine: "Oxytetracycline",
		DoseAmount: 10, DurationDays: 3, Matrix: "meat", EndDate: input(d(2024, time.May, 1)),
	}
	p, ok, err := f.svc.Preview(req)
	if err != nil || !ok {
		t.Fatalf("Preview: ok=%v err=%v", ok, err)
	}
	if p.SafeDate != d(2024, time.May, 8) {
		t.Errorf("expected 2024-05-08, got %s", p.SafeDate)
	}
	if len(f.amu.items) != 0 {
		t.Error("preview must not store anything")
	}

	req.Medicine = "Unlistedmycin"
	if _, ok, _ := f.svc.Preview(req); ok {
		t.Error("expected lookup miss")
	}
	req.EndDate = nil
	var ve *ValidationError
	if _, _, err := f.svc.Preview(req); !errors.As(err, &ve) {
		t.Errorf("expected validation error without end_date, got %v", err)
	}
}

func TestVaccinationSource(t *testing.T) {
	f := newFixture(d(2024, time.May, 1))
	tr, err := f.svc.Create(asUser("farmer-1", auth.RoleFarmer), oxyRequest(uuid.New(), d(2024, time.April, 29)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ref, err := VaccinationSource{Repo: f.treatments}.TreatmentRef(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("TreatmentRef: %v", err)
	}
	if ref.ID != tr.ID || ref.UserID != "farmer-1" || ref.IsVaccine() {
		t.Errorf("unexpected ref %+v", ref)
	}
	if _, err := (VaccinationSource{Repo: f.treatments}).TreatmentRef(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for unknown treatment")
	}
}
