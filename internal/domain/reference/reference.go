// Package reference holds the read-only dose and maximum residue limit (MRL)
// table consulted by the residue predictor.
package reference

import (
	"sort"
	"strings"
)

// Matrix is the product derived from an animal.
type Matrix string

const (
	MatrixMilk Matrix = "milk"
	MatrixMeat Matrix = "meat"
	MatrixEgg  Matrix = "egg"
)

// Tissues returns the tissue set evaluated for a matrix in its fixed
// enumeration order. The order decides worst-tissue ties.
func (m Matrix) Tissues() []string {
	switch m {
	case MatrixMeat:
		return []string{"muscle", "liver", "kidney", "fat"}
	case MatrixMilk:
		return []string{"milk"}
	case MatrixEgg:
		return []string{"egg"}
	}
	return nil
}

func (m Matrix) Valid() bool {
	return len(m.Tissues()) > 0
}

// RiskBands are upper bounds (inclusive) on risk percent for the safe and
// borderline categories. Anything above BorderlineMaxPercent is unsafe.
type RiskBands struct {
	SafeMaxPercent       float64 `yaml:"safe_max_percent" json:"safe_max_percent"`
	BorderlineMaxPercent float64 `yaml:"borderline_max_percent" json:"borderline_max_percent"`
}

type DoseRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Pharmacokinetics parameterises the first-order elimination model.
type Pharmacokinetics struct {
	HalfLifeDays         float64 `yaml:"half_life_days" json:"half_life_days"`
	DoseConversionFactor float64 `yaml:"dose_conversion_factor" json:"dose_conversion_factor"`
	SpeciesFactor        float64 `yaml:"species_factor" json:"species_factor"`
}

// Medicine is one (species, category, medicine) row.
type Medicine struct {
	Name             string           `yaml:"-" json:"name"`
	Category         string           `yaml:"-" json:"category"`
	ActiveIngredient string           `yaml:"active_ingredient" json:"active_ingredient"`
	Unit             string           `yaml:"unit" json:"unit"`
	RecommendedDose  DoseRange        `yaml:"recommended_dose" json:"recommended_dose"`
	Routes           []string         `yaml:"routes" json:"routes,omitempty"`
	MaxDurationDays  int              `yaml:"max_duration_days" json:"max_duration_days,omitempty"`
	PK               Pharmacokinetics `yaml:"pk" json:"pk"`
	// SafeMaxPercent overrides the table's safe band for this medicine.
	SafeMaxPercent *float64 `yaml:"safe_max_percent" json:"safe_max_percent,omitempty"`
}

// TissueLimit is the base MRL (µg/kg) and tissue partition factor for one
// (species, matrix, active ingredient, tissue) key.
type TissueLimit struct {
	BaseMRL         float64 `yaml:"base_mrl" json:"base_mrl"`
	PartitionFactor float64 `yaml:"partition_factor" json:"partition_factor"`
}

// Species groups a species' medicines by category and its residue limits by
// matrix, active ingredient and tissue.
type Species struct {
	Matrices  []Matrix                                     `yaml:"matrices"`
	Medicines map[string]map[string]*Medicine              `yaml:"medicines"`
	Limits    map[Matrix]map[string]map[string]TissueLimit `yaml:"residue_limits"`
}

// Table is the full reference data set. Keys are matched case-insensitively.
type Table struct {
	Version             string              `yaml:"version"`
	Bands               RiskBands           `yaml:"risk_bands"`
	DefaultHalfLifeDays float64             `yaml:"default_half_life_days"`
	Species             map[string]*Species `yaml:"species"`
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Medicine looks up the (species, category, medicine) row.
func (t *Table) Medicine(species, category, medicine string) (*Medicine, bool) {
	sp, ok := t.Species[key(species)]
	if !ok {
		return nil, false
	}
	meds, ok := sp.Medicines[key(category)]
	if !ok {
		return nil, false
	}
	m, ok := meds[key(medicine)]
	return m, ok
}

// Limits returns the tissue limits for (species, matrix, active ingredient).
func (t *Table) Limits(species string, matrix Matrix, ingredient string) (map[string]TissueLimit, bool) {
	sp, ok := t.Species[key(species)]
	if !ok {
		return nil, false
	}
	byIngredient, ok := sp.Limits[Matrix(key(string(matrix)))]
	if !ok {
		return nil, false
	}
	limits, ok := byIngredient[key(ingredient)]
	return limits, ok && len(limits) > 0
}

// TissueLimit looks up a single (species, matrix, active ingredient, tissue) key.
func (t *Table) TissueLimit(species string, matrix Matrix, ingredient, tissue string) (TissueLimit, bool) {
	limits, ok := t.Limits(species, matrix, ingredient)
	if !ok {
		return TissueLimit{}, false
	}
	l, ok := limits[key(tissue)]
	return l, ok
}

// SafeMaxPercent resolves the safe band upper bound for m.
func (t *Table) SafeMaxPercent(m *Medicine) float64 {
	if m != nil && m.SafeMaxPercent != nil {
		return *m.SafeMaxPercent
	}
	return t.Bands.SafeMaxPercent
}

// HalfLifeDays resolves m's half-life, falling back to the table default.
func (t *Table) HalfLifeDays(m *Medicine) float64 {
	if m != nil && m.PK.HalfLifeDays > 0 {
		return m.PK.HalfLifeDays
	}
	return t.DefaultHalfLifeDays
}

// SupportsMatrix reports whether species produces matrix.
func (t *Table) SupportsMatrix(species string, matrix Matrix) bool {
	sp, ok := t.Species[key(species)]
	if !ok {
		return false
	}
	for _, m := range sp.Matrices {
		if m == matrix {
			return true
		}
	}
	return false
}

// SpeciesNames lists the species in the table, sorted.
func (t *Table) SpeciesNames() []string {
	names := make([]string, 0, len(t.Species))
	for name := range t.Species {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Medicines lists every medicine row for species, sorted by category then name.
func (t *Table) Medicines(species string) []*Medicine {
	sp, ok := t.Species[key(species)]
	if !ok {
		return nil
	}
	var out []*Medicine
	for _, meds := range sp.Medicines {
		for _, m := range meds {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
