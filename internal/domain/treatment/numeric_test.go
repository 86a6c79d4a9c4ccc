package treatment

import (
	"math"
	"testing"
)

func TestStoredValues(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"dose rounds to three places", roundDose(1.23456), 1.235},
		{"percent rounds to two places", storedPercent(81.236), 81.24},
		{"percent clamps high", storedPercent(12345.6), 999.99},
		{"percent clamps low", storedPercent(-3), 0},
		{"mrl rounds to four places", storedMRL(12.345678), 12.3457},
		{"mrl clamps high", storedMRL(1e12), 9999999999.9999},
		{"percent +Inf clamps high", storedPercent(math.Inf(1)), 999.99},
		{"percent NaN stores zero", storedPercent(math.NaN()), 0},
		{"mrl +Inf clamps high", storedMRL(math.Inf(1)), 9999999999.9999},
		{"mrl -Inf stores zero", storedMRL(math.Inf(-1)), 0},
		{"mrl NaN stores zero", storedMRL(math.NaN()), 0},
		{"percent at float max clamps high", storedPercent(math.MaxFloat64), 999.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if storedPercentPtr(nil) != nil || storedMRLPtr(nil) != nil {
		t.Error("nil stays nil")
	}
}
