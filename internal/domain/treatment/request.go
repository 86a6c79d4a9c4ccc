package treatment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/vaccination"
	"github.com/amutrack/amutrack/pkg/calendar"
)

const defaultDoseUnit = "mg/kg"

var ErrInvalidSchedule = errors.New("invalid vaccination schedule")

// CreateRequest is the body of POST /treatments. Dates accept
// YYYY-MM-DD or the legacy YYYYMMDD integer form.
type CreateRequest struct {
	EntityID        string          `json:"entity_id" validate:"required,uuid"`
	FarmID          string          `json:"farm_id" validate:"omitempty,uuid"`
	Species         string          `json:"species" validate:"required"`
	Matrix          string          `json:"matrix" validate:"required,oneof=meat milk egg"`
	MedicationType  string          `json:"medication_type" validate:"required"`
	Medicine        string          `json:"medicine" validate:"required"`
	DoseAmount      float64         `json:"dose_amount" validate:"gt=0,lte=1000000"`
	DoseUnit        string          `json:"dose_unit"`
	Route           string          `json:"route"`
	FrequencyPerDay int             `json:"frequency_per_day" validate:"gte=0"`
	DurationDays    int             `json:"duration_days" validate:"gt=0"`
	StartDate       *calendar.Input `json:"start_date" validate:"required"`
	EndDate         *calendar.Input `json:"end_date"`
	VetID           string          `json:"vet_id"`
	VetName         string          `json:"vet_name"`
	Reason          string          `json:"reason"`
	Cause           string          `json:"cause"`

	VaccinationDate     *calendar.Input `json:"vaccination_date"`
	VaccineIntervalDays *int            `json:"vaccine_interval_days" validate:"omitempty,gt=0"`
	VaccineTotalMonths  *int            `json:"vaccine_total_months" validate:"omitempty,gt=0"`
	VaccineEndDate      *calendar.Input `json:"vaccine_end_date"`
}

// build converts a validated request. The schedule is nil unless the
// treatment is a vaccine with an interval.
func (r *CreateRequest) build() (*Treatment, *vaccination.Schedule, error) {
	entityID, err := uuid.Parse(r.EntityID)
	if err != nil {
		return nil, nil, invalid("entity_id", "uuid")
	}
	t := &Treatment{
		EntityID:        entityID,
		Species:         r.Species,
		Matrix:          reference.Matrix(r.Matrix),
		MedicationType:  r.MedicationType,
		Medicine:        r.Medicine,
		DoseAmount:      r.DoseAmount,
		DoseUnit:        r.DoseUnit,
		Route:           r.Route,
		FrequencyPerDay: r.FrequencyPerDay,
		DurationDays:    r.DurationDays,
		StartDate:       r.StartDate.Date,
		VetID:           r.VetID,
		VetName:         r.VetName,
		Reason:          r.Reason,
		Cause:           r.Cause,
	}
	if r.FarmID != "" {
		id, err := uuid.Parse(r.FarmID)
		if err != nil {
			return nil, nil, invalid("farm_id", "uuid")
		}
		t.FarmID = &id
	}
	t.applyDefaults()
	if err := t.setEndDate(r.EndDate.Ptr()); err != nil {
		return nil, nil, err
	}

	if !t.IsVaccine() || r.VaccineIntervalDays == nil {
		return t, nil, nil
	}
	sched := &vaccination.Schedule{
		EntityID:     entityID,
		VaccineName:  t.Medicine,
		FirstDate:    t.StartDate,
		IntervalDays: *r.VaccineIntervalDays,
		TotalMonths:  r.VaccineTotalMonths,
		EndDate:      r.VaccineEndDate.Ptr(),
	}
	if d := r.VaccinationDate.Ptr(); d != nil {
		sched.FirstDate = *d
	}
	first, err := vaccination.FirstEntry(*sched)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	given := first.GivenDate
	next := first.NextDueDate
	t.VaccinationDate = &given
	t.NextDueDate = &next
	t.VaccineIntervalDays = &first.IntervalDays
	t.VaccineTotalMonths = first.VaccineTotalMonths
	t.VaccineEndDate = first.VaccineEndDate
	return t, sched, nil
}

// UpdateRequest is the body of the corrective PUT /treatments/:id. Absent
// fields keep their stored value.
type UpdateRequest struct {
	Species         *string         `json:"species" validate:"omitempty,min=1"`
	Matrix          *string         `json:"matrix" validate:"omitempty,oneof=meat milk egg"`
	MedicationType  *string         `json:"medication_type" validate:"omitempty,min=1"`
	Medicine        *string         `json:"medicine" validate:"omitempty,min=1"`
	DoseAmount      *float64        `json:"dose_amount" validate:"omitempty,gt=0,lte=1000000"`
	DoseUnit        *string         `json:"dose_unit"`
	Route           *string         `json:"route"`
	FrequencyPerDay *int            `json:"frequency_per_day" validate:"omitempty,gt=0"`
	DurationDays    *int            `json:"duration_days" validate:"omitempty,gt=0"`
	StartDate       *calendar.Input `json:"start_date"`
	EndDate         *calendar.Input `json:"end_date"`
	VetID           *string         `json:"vet_id"`
	VetName         *string         `json:"vet_name"`
	Reason          *string         `json:"reason"`
	Cause           *string         `json:"cause"`
	Status          *string         `json:"status" validate:"omitempty,oneof=pending approved completed"`
}

// apply patches t in place and reports whether any predictor input
// changed.
func (r *UpdateRequest) apply(t *Treatment) (bool, error) {
	before := t.inputs()

	setString(&t.Species, r.Species)
	if r.Matrix != nil {
		t.Matrix = reference.Matrix(*r.Matrix)
	}
	setString(&t.MedicationType, r.MedicationType)
	setString(&t.Medicine, r.Medicine)
	if r.DoseAmount != nil {
		t.DoseAmount = *r.DoseAmount
	}
	setString(&t.DoseUnit, r.DoseUnit)
	setString(&t.Route, r.Route)
	if r.FrequencyPerDay != nil {
		t.FrequencyPerDay = *r.FrequencyPerDay
	}
	setString(&t.VetID, r.VetID)
	setString(&t.VetName, r.VetName)
	setString(&t.Reason, r.Reason)
	setString(&t.Cause, r.Cause)
	if r.Status != nil {
		t.Status = Status(*r.Status)
	}
	t.applyDefaults()

	end := r.EndDate.Ptr()
	if r.StartDate != nil || r.DurationDays != nil {
		if r.StartDate != nil {
			t.StartDate = r.StartDate.Date
		}
		if r.DurationDays != nil {
			t.DurationDays = *r.DurationDays
		}
		if end == nil {
			if err := t.setEndDate(nil); err != nil {
				return false, err
			}
		}
	}
	if end != nil {
		if err := t.setEndDate(end); err != nil {
			return false, err
		}
	}
	return t.inputs() != before, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// AMURequest is the body of POST /treatments/:id/amu. Absent fields are
// taken from the treatment.
type AMURequest struct {
	Matrix          string          `json:"matrix" validate:"omitempty,oneof=meat milk egg"`
	MedicationType  string          `json:"medication_type"`
	Medicine        string          `json:"medicine"`
	DoseAmount      *float64        `json:"dose_amount" validate:"omitempty,gt=0,lte=1000000"`
	DoseUnit        string          `json:"dose_unit"`
	FrequencyPerDay *int            `json:"frequency_per_day" validate:"omitempty,gt=0"`
	DurationDays    *int            `json:"duration_days" validate:"omitempty,gt=0"`
	StartDate       *calendar.Input `json:"start_date"`
	EndDate         *calendar.Input `json:"end_date"`
}

func (r *AMURequest) record(t *Treatment) (*AMURecord, error) {
	a := &AMURecord{TreatmentID: t.ID, EntityID: t.EntityID, UserID: t.UserID}
	a.copyInputs(t)
	if r.Matrix != "" {
		a.Matrix = reference.Matrix(r.Matrix)
	}
	if r.MedicationType != "" {
		a.MedicationType = r.MedicationType
	}
	if r.Medicine != "" {
		a.Medicine = r.Medicine
	}
	if r.DoseAmount != nil {
		a.DoseAmount = *r.DoseAmount
	}
	if r.DoseUnit != "" {
		a.DoseUnit = r.DoseUnit
	}
	if r.FrequencyPerDay != nil {
		a.FrequencyPerDay = *r.FrequencyPerDay
	}

	span := Treatment{StartDate: a.StartDate, EndDate: a.EndDate, DurationDays: a.DurationDays}
	if r.StartDate != nil {
		span.StartDate = r.StartDate.Date
	}
	if r.DurationDays != nil {
		span.DurationDays = *r.DurationDays
	}
	if r.StartDate != nil || r.DurationDays != nil || r.EndDate != nil {
		if err := span.setEndDate(r.EndDate.Ptr()); err != nil {
			return nil, err
		}
	}
	a.StartDate, a.EndDate, a.DurationDays = span.StartDate, span.EndDate, span.DurationDays
	return a, nil
}

// PreviewRequest is the body of POST /predict. evaluation_date defaults
// to today.
type PreviewRequest struct {
	Species         string          `json:"species" validate:"required"`
	MedicationType  string          `json:"medication_type" validate:"required"`
	Medicine        string          `json:"medicine" validate:"required"`
	DoseAmount      float64         `json:"dose_amount" validate:"gt=0,lte=1000000"`
	DoseUnit        string          `json:"dose_unit"`
	FrequencyPerDay int             `json:"frequency_per_day" validate:"gte=0"`
	DurationDays    int             `json:"duration_days" validate:"gt=0"`
	Matrix          string          `json:"matrix" validate:"required,oneof=meat milk egg"`
	EndDate         *calendar.Input `json:"end_date" validate:"required"`
	EvaluationDate  *calendar.Input `json:"evaluation_date"`
}

func (r *PreviewRequest) input(today calendar.Date) residue.Input {
	in := residue.Input{
		Species:         r.Species,
		Category:        r.MedicationType,
		Medicine:        r.Medicine,
		DoseAmount:      r.DoseAmount,
		DoseUnit:        r.DoseUnit,
		FrequencyPerDay: r.FrequencyPerDay,
		DurationDays:    r.DurationDays,
		Matrix:          reference.Matrix(r.Matrix),
		EndDate:         r.EndDate.Date,
		EvaluationDate:  today,
	}
	if in.DoseUnit == "" {
		in.DoseUnit = defaultDoseUnit
	}
	if in.FrequencyPerDay == 0 {
		in.FrequencyPerDay = 1
	}
	if d := r.EvaluationDate.Ptr(); d != nil {
		in.EvaluationDate = *d
	}
	return in
}

// -- Treatment helpers --

func (t *Treatment) applyDefaults() {
	if t.DoseUnit == "" {
		t.DoseUnit = defaultDoseUnit
	}
	if t.FrequencyPerDay == 0 {
		t.FrequencyPerDay = 1
	}
}

// setEndDate stores end, or derives it as the last day of the course
// when end is nil.
func (t *Treatment) setEndDate(end *calendar.Date) error {
	if end == nil {
		t.EndDate = calendar.AddDays(t.StartDate, t.DurationDays-1)
		return nil
	}
	if end.Before(t.StartDate) {
		return invalid("end_date", "gtefield=start_date")
	}
	t.EndDate = *end
	return nil
}

type predictorInputs struct {
	species, matrix, category, medicine, unit string
	dose                                      float64
	freq, duration                            int
	start, end                                calendar.Date
}

func (t *Treatment) inputs() predictorInputs {
	return predictorInputs{
		species: t.Species, matrix: string(t.Matrix), category: t.MedicationType,
		medicine: t.Medicine, unit: t.DoseUnit, dose: t.DoseAmount,
		freq: t.FrequencyPerDay, duration: t.DurationDays,
		start: t.StartDate, end: t.EndDate,
	}
}

// copyInputs overwrites the predictor inputs of a with those of t.
func (a *AMURecord) copyInputs(t *Treatment) {
	a.Species = t.Species
	a.Matrix = t.Matrix
	a.MedicationType = t.MedicationType
	a.Medicine = t.Medicine
	a.DoseAmount = t.DoseAmount
	a.DoseUnit = t.DoseUnit
	a.FrequencyPerDay = t.FrequencyPerDay
	a.DurationDays = t.DurationDays
	a.StartDate = t.StartDate
	a.EndDate = t.EndDate
}
