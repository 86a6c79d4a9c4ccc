package treatment

import (
	"math"

	"github.com/shopspring/decimal"
)

// Column bounds of the NUMERIC columns prediction values are written to.
var (
	maxRiskPercent = decimal.RequireFromString("999.99")
	maxMRL         = decimal.RequireFromString("9999999999.9999")
)

// roundDose rounds to the NUMERIC(12,3) dose column.
func roundDose(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}

// storedMRL rounds a concentration to four places and clamps it to the
// column range.
func storedMRL(v float64) float64 {
	return clamp(v, 4, maxMRL)
}

// storedPercent clamps risk percent to 0..999.99. The in-memory
// prediction keeps the unclamped value.
func storedPercent(v float64) float64 {
	return clamp(v, 2, maxRiskPercent)
}

// clamp rounds v to places and bounds it to 0..max. NaN and -Inf store as
// 0 and +Inf as max; decimal.NewFromFloat panics on either.
func clamp(v float64, places int32, max decimal.Decimal) float64 {
	switch {
	case math.IsNaN(v) || math.IsInf(v, -1):
		return 0
	case math.IsInf(v, 1):
		return max.InexactFloat64()
	}
	d := decimal.NewFromFloat(v).Round(places)
	if d.IsNegative() {
		return 0
	}
	if d.GreaterThan(max) {
		d = max
	}
	return d.InexactFloat64()
}

func storedMRLPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := storedMRL(*v)
	return &r
}

func storedPercentPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := storedPercent(*v)
	return &r
}
