package treatment

import (
	"time"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/vaccination"
	"github.com/amutrack/amutrack/pkg/calendar"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusApproved: true, StatusCompleted: true,
}

type Treatment struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	EntityID        uuid.UUID        `db:"entity_id" json:"entity_id"`
	FarmID          *uuid.UUID       `db:"farm_id" json:"farm_id,omitempty"`
	UserID          string           `db:"user_id" json:"user_id"`
	Species         string           `db:"species" json:"species"`
	Matrix          reference.Matrix `db:"matrix" json:"matrix"`
	MedicationType  string           `db:"medication_type" json:"medication_type"`
	Medicine        string           `db:"medicine" json:"medicine"`
	DoseAmount      float64          `db:"dose_amount" json:"dose_amount"`
	DoseUnit        string           `db:"dose_unit" json:"dose_unit"`
	Route           string           `db:"route" json:"route,omitempty"`
	FrequencyPerDay int              `db:"frequency_per_day" json:"frequency_per_day"`
	DurationDays    int              `db:"duration_days" json:"duration_days"`
	StartDate       calendar.Date    `db:"start_date" json:"start_date"`
	EndDate         calendar.Date    `db:"end_date" json:"end_date"`
	VetID           string           `db:"vet_id" json:"vet_id,omitempty"`
	VetName         string           `db:"vet_name" json:"vet_name,omitempty"`
	Reason          string           `db:"reason" json:"reason,omitempty"`
	Cause           string           `db:"cause" json:"cause,omitempty"`
	Status          Status           `db:"status" json:"status"`

	VaccinationDate     *calendar.Date `db:"vaccination_date" json:"vaccination_date,omitempty"`
	VaccineIntervalDays *int           `db:"vaccine_interval_days" json:"vaccine_interval_days,omitempty"`
	VaccineTotalMonths  *int           `db:"vaccine_total_months" json:"vaccine_total_months,omitempty"`
	NextDueDate         *calendar.Date `db:"next_due_date" json:"next_due_date,omitempty"`
	VaccineEndDate      *calendar.Date `db:"vaccine_end_date" json:"vaccine_end_date,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	AMURecords []*AMURecord `db:"-" json:"amu_records,omitempty"`
}

// Ref is the view of t the vaccination schedule works with.
func (t *Treatment) Ref() *vaccination.TreatmentRef {
	return &vaccination.TreatmentRef{
		ID:             t.ID,
		EntityID:       t.EntityID,
		UserID:         t.UserID,
		FarmID:         t.FarmID,
		MedicationType: t.MedicationType,
		Medicine:       t.Medicine,
	}
}

func (t *Treatment) IsVaccine() bool {
	return t.MedicationType == vaccination.MedicationTypeVaccine
}

// AMURecord is one antimicrobial-use entry against a treatment together
// with its residue prediction. Prediction fields are nil when the
// reference table had no data for the inputs.
type AMURecord struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	TreatmentID      uuid.UUID        `db:"treatment_id" json:"treatment_id"`
	EntityID         uuid.UUID        `db:"entity_id" json:"entity_id"`
	UserID           string           `db:"user_id" json:"user_id"`
	Species          string           `db:"species" json:"species"`
	Matrix           reference.Matrix `db:"matrix" json:"matrix"`
	MedicationType   string           `db:"medication_type" json:"medication_type"`
	Medicine         string           `db:"medicine" json:"medicine"`
	ActiveIngredient string           `db:"active_ingredient" json:"active_ingredient,omitempty"`
	DoseAmount       float64          `db:"dose_amount" json:"dose_amount"`
	DoseUnit         string           `db:"dose_unit" json:"dose_unit"`
	FrequencyPerDay  int              `db:"frequency_per_day" json:"frequency_per_day"`
	DurationDays     int              `db:"duration_days" json:"duration_days"`
	StartDate        calendar.Date    `db:"start_date" json:"start_date"`
	EndDate          calendar.Date    `db:"end_date" json:"end_date"`

	WorstTissue    *string               `db:"worst_tissue" json:"worst_tissue"`
	RiskCategory   *residue.RiskCategory `db:"risk_category" json:"risk_category"`
	PredictedMRL   *float64              `db:"predicted_mrl" json:"predicted_mrl"`
	RiskPercent    *float64              `db:"risk_percent" json:"risk_percent"`
	WithdrawalDays *int                  `db:"predicted_withdrawal_days" json:"predicted_withdrawal_days"`
	SafeDate       *calendar.Date        `db:"safe_date" json:"safe_date"`
	Overdosage     bool                  `db:"overdosage" json:"overdosage"`
	Message        string                `db:"message" json:"message,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Tissues []residue.TissueResult `db:"-" json:"tissue_results,omitempty"`
}

// Input is the predictor input for this record evaluated on day.
func (a *AMURecord) Input(day calendar.Date) residue.Input {
	return residue.Input{
		Species:         a.Species,
		Category:        a.MedicationType,
		Medicine:        a.Medicine,
		DoseAmount:      a.DoseAmount,
		DoseUnit:        a.DoseUnit,
		FrequencyPerDay: a.FrequencyPerDay,
		DurationDays:    a.DurationDays,
		Matrix:          a.Matrix,
		EndDate:         a.EndDate,
		EvaluationDate:  day,
	}
}

// ApplyPrediction copies p onto the aggregate fields. A nil p clears them.
func (a *AMURecord) ApplyPrediction(p *residue.Prediction) {
	if p == nil {
		a.WorstTissue, a.RiskCategory, a.PredictedMRL, a.RiskPercent = nil, nil, nil, nil
		a.WithdrawalDays, a.SafeDate = nil, nil
		a.Overdosage = false
		a.Tissues = nil
		return
	}
	worst, cat := p.WorstTissue, p.RiskCategory
	mrl, pct := p.PredictedMRL, p.RiskPercent
	days, safe := p.WithdrawalDays, p.SafeDate
	a.WorstTissue, a.RiskCategory = &worst, &cat
	a.PredictedMRL, a.RiskPercent = &mrl, &pct
	a.WithdrawalDays, a.SafeDate = &days, &safe
	a.Overdosage = p.Overdosage
	a.Message = p.Message
	if p.ActiveIngredient != "" {
		a.ActiveIngredient = p.ActiveIngredient
	}
	a.Tissues = append([]residue.TissueResult(nil), p.Tissues...)
}

// InWithdrawal reports whether products are still withheld on day.
func (a *AMURecord) InWithdrawal(day calendar.Date) bool {
	return a.SafeDate != nil && day.Before(*a.SafeDate)
}

// Withdrawal is an AMU record whose safe date has not been reached.
type Withdrawal struct {
	AMUID         uuid.UUID     `json:"amu_id"`
	TreatmentID   uuid.UUID     `json:"treatment_id"`
	EntityID      uuid.UUID     `json:"entity_id"`
	FarmID        *uuid.UUID    `json:"farm_id,omitempty"`
	Species       string        `json:"species"`
	Medicine      string        `json:"medicine"`
	WorstTissue   string        `json:"worst_tissue"`
	RiskCategory  string        `json:"risk_category"`
	SafeDate      calendar.Date `json:"safe_date"`
	DaysRemaining int           `json:"days_remaining"`
}
