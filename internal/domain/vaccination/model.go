package vaccination

import (
	"time"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/pkg/calendar"
)

// Entry is one dose in a treatment's vaccination chain. The chain head is
// the entry with the latest given date.
type Entry struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	EntityID           uuid.UUID      `db:"entity_id" json:"entity_id"`
	TreatmentID        uuid.UUID      `db:"treatment_id" json:"treatment_id"`
	VaccineName        string         `db:"vaccine_name" json:"vaccine_name"`
	GivenDate          calendar.Date  `db:"given_date" json:"given_date"`
	IntervalDays       int            `db:"interval_days" json:"interval_days"`
	NextDueDate        calendar.Date  `db:"next_due_date" json:"next_due_date"`
	VaccineTotalMonths *int           `db:"vaccine_total_months" json:"vaccine_total_months,omitempty"`
	VaccineEndDate     *calendar.Date `db:"vaccine_end_date" json:"vaccine_end_date,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}

// DueEntry is a chain head with the owning treatment's context, as listed
// by the upcoming and overdue views.
type DueEntry struct {
	Entry
	UserID       string     `json:"user_id"`
	FarmID       *uuid.UUID `json:"farm_id,omitempty"`
	Medicine     string     `json:"medicine"`
	DaysUntilDue int        `json:"days_until_due"`
	State        State      `json:"state"`
}

// TreatmentRef is the part of a treatment the schedule needs.
type TreatmentRef struct {
	ID             uuid.UUID
	EntityID       uuid.UUID
	UserID         string
	FarmID         *uuid.UUID
	MedicationType string
	Medicine       string
}

const MedicationTypeVaccine = "vaccine"

func (t *TreatmentRef) IsVaccine() bool {
	return t.MedicationType == MedicationTypeVaccine
}
