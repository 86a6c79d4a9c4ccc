package residue

import (
	"fmt"
	"math"
	"strings"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/pkg/calendar"
)

// Predictor evaluates inputs against a reference table. It holds no mutable
// state and is safe for concurrent use.
type Predictor struct {
	table *reference.Table
}

// NewPredictor panics on a nil table.
func NewPredictor(table *reference.Table) *Predictor {
	if table == nil {
		panic("residue: nil reference table")
	}
	return &Predictor{table: table}
}

func (p *Predictor) Table() *reference.Table { return p.table }

// tissueModel is first-order elimination from a starting concentration.
type tissueModel struct {
	name string
	c0   float64
	k    float64
	base float64
}

// MaxDoseAmount is the largest single dose, in any unit, the request
// validators and the predict command accept.
const MaxDoseAmount = 1e6

func (m tissueModel) concentration(days int) float64 {
	return saturate(m.c0 * math.Exp(-m.k*float64(days)))
}

func (m tissueModel) riskPercent(days int) float64 {
	return saturate(m.concentration(days) / m.base * 100)
}

// saturate keeps model outputs finite and non-negative so they stay
// JSON-encodable and withdrawalDays terminates.
func saturate(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	}
	return v
}

// Predict returns false when the reference table has no row for the
// medicine or no residue limits for the matrix.
func (p *Predictor) Predict(in Input) (*Prediction, bool) {
	in.Matrix = reference.Matrix(strings.ToLower(strings.TrimSpace(string(in.Matrix))))
	med, ok := p.table.Medicine(in.Species, in.Category, in.Medicine)
	if !ok {
		return nil, false
	}
	models := p.models(in, med)
	if len(models) == 0 {
		return nil, false
	}

	bands := bandsFor(p.table, med)
	elapsed := calendar.DaysElapsed(in.EndDate, in.EvaluationDate)

	pred := &Prediction{
		ActiveIngredient: med.ActiveIngredient,
		Tissues:          make([]TissueResult, 0, len(models)),
	}
	worst := 0
	for i, m := range models {
		risk := m.riskPercent(elapsed)
		pred.Tissues = append(pred.Tissues, TissueResult{
			Tissue:       m.name,
			PredictedMRL: m.concentration(elapsed),
			BaseMRL:      m.base,
			RiskPercent:  risk,
			RiskCategory: Classify(risk, bands),
		})
		if risk > pred.Tissues[worst].RiskPercent {
			worst = i
		}
	}

	w := pred.Tissues[worst]
	pred.WorstTissue = w.Tissue
	pred.RiskCategory = w.RiskCategory
	pred.PredictedMRL = w.PredictedMRL
	pred.RiskPercent = w.RiskPercent
	pred.WithdrawalDays = withdrawalDays(models[worst], bands.SafeMaxPercent)
	pred.SafeDate = CalculateSafeDate(in.EndDate, pred.WithdrawalDays)
	pred.Overdosage = overdosed(in, med)
	pred.Message = summarise(in, med, pred)
	return pred, true
}

func (p *Predictor) models(in Input, med *reference.Medicine) []tissueModel {
	limits, ok := p.table.Limits(in.Species, in.Matrix, med.ActiveIngredient)
	if !ok {
		return nil
	}
	k := math.Ln2 / p.table.HalfLifeDays(med)
	dose := NormaliseDose(in.DoseAmount, in.DoseUnit)

	var out []tissueModel
	for _, tissue := range in.Matrix.Tissues() {
		l, ok := limits[tissue]
		if !ok || l.BaseMRL <= 0 {
			continue
		}
		out = append(out, tissueModel{
			name: tissue,
			c0:   dose * med.PK.DoseConversionFactor * l.PartitionFactor * med.PK.SpeciesFactor,
			k:    k,
			base: l.BaseMRL,
		})
	}
	return out
}

// withdrawalDays is the smallest D >= 0 with riskPercent(D) <= safe.
func withdrawalDays(m tissueModel, safe float64) int {
	if m.riskPercent(0) <= safe {
		return 0
	}
	d := int(math.Ceil(math.Log(m.riskPercent(0)/safe) / m.k))
	if d < 0 {
		d = 0
	}
	for d > 0 && m.riskPercent(d-1) <= safe {
		d--
	}
	for m.riskPercent(d) > safe {
		d++
	}
	return d
}

// WithdrawalDays predicts the withdrawal period for in without evaluating
// tissues at a particular date.
func (p *Predictor) WithdrawalDays(in Input) (int, bool) {
	pred, ok := p.Predict(in)
	if !ok {
		return 0, false
	}
	return pred.WithdrawalDays, true
}

// CalculateSafeDate is end + days calendar days.
func CalculateSafeDate(end calendar.Date, days int) calendar.Date {
	return calendar.AddDays(end, days)
}

// CheckOverdosage reports whether the daily dose exceeds the recommended
// maximum or the course runs past the maximum duration. Unknown medicines
// are never flagged.
func (p *Predictor) CheckOverdosage(in Input) bool {
	med, ok := p.table.Medicine(in.Species, in.Category, in.Medicine)
	if !ok {
		return false
	}
	return overdosed(in, med)
}

func overdosed(in Input, med *reference.Medicine) bool {
	if med.RecommendedDose.Max > 0 && dailyDose(in, med) > med.RecommendedDose.Max {
		return true
	}
	return med.MaxDurationDays > 0 && in.DurationDays > med.MaxDurationDays
}

func dailyDose(in Input, med *reference.Medicine) float64 {
	freq := in.FrequencyPerDay
	if freq < 1 {
		freq = 1
	}
	dose := in.DoseAmount
	if isPerKg(med.Unit) {
		dose = NormaliseDose(in.DoseAmount, in.DoseUnit)
	}
	return dose * float64(freq)
}

func isPerKg(unit string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(unit)), "/kg")
}

// NormaliseDose converts a per-kg dose to mg/kg. Unrecognised units are
// taken as mg/kg.
func NormaliseDose(amount float64, unit string) float64 {
	switch strings.ToLower(strings.ReplaceAll(unit, " ", "")) {
	case "g/kg":
		return amount * 1000
	case "µg/kg", "ug/kg", "mcg/kg":
		return amount / 1000
	default:
		return amount
	}
}

func summarise(in Input, med *reference.Medicine, pred *Prediction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Worst tissue %s at %.1f%% of MRL (%s).", pred.WorstTissue, pred.RiskPercent, pred.RiskCategory)
	if pred.WithdrawalDays == 0 {
		fmt.Fprintf(&b, " No withdrawal needed after %s.", in.EndDate)
	} else {
		fmt.Fprintf(&b, " Withdrawal %d days, safe from %s.", pred.WithdrawalDays, pred.SafeDate)
	}
	if pred.Overdosage {
		fmt.Fprintf(&b, " Overdosage: %.2f %s per day against a recommended maximum of %.2f",
			dailyDose(in, med), med.Unit, med.RecommendedDose.Max)
		if med.MaxDurationDays > 0 {
			fmt.Fprintf(&b, " for at most %d days", med.MaxDurationDays)
		}
		b.WriteString(".")
	}
	return b.String()
}
