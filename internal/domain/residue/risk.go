package residue

import "github.com/amutrack/amutrack/internal/domain/reference"

// Classify buckets a risk percent. Band bounds are inclusive.
func Classify(percent float64, bands reference.RiskBands) RiskCategory {
	switch {
	case percent <= bands.SafeMaxPercent:
		return RiskSafe
	case percent <= bands.BorderlineMaxPercent:
		return RiskBorderline
	default:
		return RiskUnsafe
	}
}

// bandsFor applies a medicine's safe override to the table bands.
func bandsFor(table *reference.Table, m *reference.Medicine) reference.RiskBands {
	b := table.Bands
	b.SafeMaxPercent = table.SafeMaxPercent(m)
	if b.BorderlineMaxPercent < b.SafeMaxPercent {
		b.BorderlineMaxPercent = b.SafeMaxPercent
	}
	return b
}
