package vaccination

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/pkg/calendar"
)

var (
	ErrNotDue         = errors.New("vaccination is not due yet")
	ErrCycleCompleted = errors.New("vaccination cycle is already completed")
)

type State string

const (
	StateScheduled State = "scheduled"
	StateDue       State = "due"
	StateCompleted State = "completed"
)

// Advance reports whether the chain head may be followed by a new dose.
type Advance struct {
	Due           bool `json:"due"`
	CycleComplete bool `json:"cycle_complete"`
}

// CanAdvance evaluates latest against today. An entry without an end date
// belongs to an open-ended schedule and never completes.
func CanAdvance(latest *Entry, today calendar.Date) Advance {
	a := Advance{Due: calendar.OnOrAfter(today, latest.NextDueDate)}
	if latest.VaccineEndDate != nil {
		a.CycleComplete = calendar.OnOrAfter(today, *latest.VaccineEndDate)
	}
	return a
}

// Check returns ErrCycleCompleted before ErrNotDue: a finished cycle
// rejects the dose even when it is also overdue.
func Check(latest *Entry, today calendar.Date) error {
	a := CanAdvance(latest, today)
	if a.CycleComplete {
		return ErrCycleCompleted
	}
	if !a.Due {
		return ErrNotDue
	}
	return nil
}

func StateOf(latest *Entry, today calendar.Date) State {
	a := CanAdvance(latest, today)
	switch {
	case a.CycleComplete:
		return StateCompleted
	case a.Due:
		return StateDue
	default:
		return StateScheduled
	}
}

// NextEntry builds the entry recording a dose given on given. The cycle
// bounds are carried forward unchanged. A next due date past the end
// date is kept; the following advance is rejected as completed.
func NextEntry(latest *Entry, given calendar.Date) *Entry {
	next := &Entry{
		EntityID:     latest.EntityID,
		TreatmentID:  latest.TreatmentID,
		VaccineName:  latest.VaccineName,
		GivenDate:    given,
		IntervalDays: latest.IntervalDays,
		NextDueDate:  calendar.AddDays(given, latest.IntervalDays),
	}
	if latest.VaccineTotalMonths != nil {
		m := *latest.VaccineTotalMonths
		next.VaccineTotalMonths = &m
	}
	if latest.VaccineEndDate != nil {
		d := *latest.VaccineEndDate
		next.VaccineEndDate = &d
	}
	return next
}

// DaysUntilDue is negative once the dose is overdue.
func DaysUntilDue(e *Entry, today calendar.Date) int {
	return calendar.DaysBetween(today, e.NextDueDate)
}

// Schedule is the vaccination plan recorded on a vaccine treatment.
type Schedule struct {
	EntityID     uuid.UUID
	TreatmentID  uuid.UUID
	VaccineName  string
	FirstDate    calendar.Date
	IntervalDays int
	TotalMonths  *int
	EndDate      *calendar.Date
	NextDueDate  *calendar.Date
}

// FirstEntry builds the first dose of s. The end date is taken from s or
// derived from the first date plus the total months.
func FirstEntry(s Schedule) (*Entry, error) {
	if s.VaccineName == "" {
		return nil, fmt.Errorf("vaccine name is required")
	}
	if calendar.IsZero(s.FirstDate) {
		return nil, fmt.Errorf("vaccination_date is required")
	}
	if s.IntervalDays <= 0 {
		return nil, fmt.Errorf("vaccine_interval_days must be positive")
	}
	if s.TotalMonths != nil && *s.TotalMonths <= 0 {
		return nil, fmt.Errorf("vaccine_total_months must be positive")
	}

	e := &Entry{
		EntityID:     s.EntityID,
		TreatmentID:  s.TreatmentID,
		VaccineName:  s.VaccineName,
		GivenDate:    s.FirstDate,
		IntervalDays: s.IntervalDays,
		NextDueDate:  calendar.AddDays(s.FirstDate, s.IntervalDays),
	}
	if s.NextDueDate != nil {
		if s.NextDueDate.Before(s.FirstDate) {
			return nil, fmt.Errorf("next_due_date %s is before vaccination_date %s", s.NextDueDate, s.FirstDate)
		}
		e.NextDueDate = *s.NextDueDate
	}
	if s.TotalMonths != nil {
		m := *s.TotalMonths
		e.VaccineTotalMonths = &m
	}
	switch {
	case s.EndDate != nil:
		if !s.EndDate.After(s.FirstDate) {
			return nil, fmt.Errorf("vaccine_end_date %s must be after vaccination_date %s", s.EndDate, s.FirstDate)
		}
		d := *s.EndDate
		e.VaccineEndDate = &d
	case s.TotalMonths != nil:
		d := calendar.AddMonths(s.FirstDate, *s.TotalMonths)
		e.VaccineEndDate = &d
	}
	return e, nil
}
