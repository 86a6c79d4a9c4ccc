// Package residue predicts tissue drug residue after a treatment and derives
// the withdrawal period and safe date from it.
package residue

import (
	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/pkg/calendar"
)

type RiskCategory string

const (
	RiskSafe       RiskCategory = "safe"
	RiskBorderline RiskCategory = "borderline"
	RiskUnsafe     RiskCategory = "unsafe"
)

// Input describes one administration to evaluate. Callers validate numeric
// fields before calling Predict.
type Input struct {
	Species         string           `json:"species"`
	Category        string           `json:"category"`
	Medicine        string           `json:"medicine"`
	DoseAmount      float64          `json:"dose_amount"`
	DoseUnit        string           `json:"dose_unit"`
	FrequencyPerDay int              `json:"frequency_per_day"`
	DurationDays    int              `json:"duration_days"`
	Matrix          reference.Matrix `json:"matrix"`
	EndDate         calendar.Date    `json:"end_date"`
	EvaluationDate  calendar.Date    `json:"evaluation_date"`
}

type TissueResult struct {
	Tissue       string       `json:"tissue"`
	PredictedMRL float64      `json:"predicted_mrl"`
	BaseMRL      float64      `json:"base_mrl"`
	RiskPercent  float64      `json:"risk_percent"`
	RiskCategory RiskCategory `json:"risk_category"`
}

// Prediction is the complete result of one evaluation. Tissues follow the
// matrix enumeration order.
type Prediction struct {
	ActiveIngredient string         `json:"active_ingredient"`
	Tissues          []TissueResult `json:"tissues"`
	WorstTissue      string         `json:"worst_tissue"`
	RiskCategory     RiskCategory   `json:"risk_category"`
	PredictedMRL     float64        `json:"predicted_mrl"`
	RiskPercent      float64        `json:"risk_percent"`
	WithdrawalDays   int            `json:"predicted_withdrawal_days"`
	SafeDate         calendar.Date  `json:"safe_date"`
	Overdosage       bool           `json:"overdosage"`
	Message          string         `json:"message"`
}

// Worst returns the result for the worst tissue.
func (p *Prediction) Worst() TissueResult {
	for _, t := range p.Tissues {
		if t.Tissue == p.WorstTissue {
			return t
		}
	}
	return TissueResult{}
}
