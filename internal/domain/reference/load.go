package reference

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed reference.yaml
var defaultFS embed.FS

// Default values applied when the YAML leaves them unset.
var defaultBands = RiskBands{SafeMaxPercent: 80, BorderlineMaxPercent: 100}

const defaultHalfLifeDays = 7.0

// Load reads the table from path, or the embedded table when path is empty.
func Load(path string) (*Table, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(path) == "" {
		data, err = defaultFS.ReadFile("reference.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read reference table: %w", err)
	}
	return Parse(data)
}

// MustDefault returns the embedded table and panics if it does not parse.
func MustDefault() *Table {
	t, err := Load("")
	if err != nil {
		panic(err)
	}
	return t
}

// Parse decodes and normalises a YAML reference table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode reference table: %w", err)
	}
	if t.Bands == (RiskBands{}) {
		t.Bands = defaultBands
	}
	if t.DefaultHalfLifeDays <= 0 {
		t.DefaultHalfLifeDays = defaultHalfLifeDays
	}
	t.normalise()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) normalise() {
	species := make(map[string]*Species, len(t.Species))
	for name, sp := range t.Species {
		if sp == nil {
			continue
		}
		meds := make(map[string]map[string]*Medicine, len(sp.Medicines))
		for category, rows := range sp.Medicines {
			byName := make(map[string]*Medicine, len(rows))
			for medName, m := range rows {
				if m == nil {
					continue
				}
				m.Name = medName
				m.Category = key(category)
				if m.ActiveIngredient == "" {
					m.ActiveIngredient = medName
				}
				m.ActiveIngredient = key(m.ActiveIngredient)
				if m.Unit == "" {
					m.Unit = "mg/kg"
				}
				if m.PK.DoseConversionFactor == 0 {
					m.PK.DoseConversionFactor = 1
				}
				if m.PK.SpeciesFactor == 0 {
					m.PK.SpeciesFactor = 1
				}
				byName[key(medName)] = m
			}
			meds[key(category)] = byName
		}
		sp.Medicines = meds

		limits := make(map[Matrix]map[string]map[string]TissueLimit, len(sp.Limits))
		for matrix, byIngredient := range sp.Limits {
			norm := make(map[string]map[string]TissueLimit, len(byIngredient))
			for ingredient, tissues := range byIngredient {
				lt := make(map[string]TissueLimit, len(tissues))
				for tissue, l := range tissues {
					if l.PartitionFactor == 0 {
						l.PartitionFactor = 1
					}
					lt[key(tissue)] = l
				}
				norm[key(ingredient)] = lt
			}
			limits[Matrix(key(string(matrix)))] = norm
		}
		sp.Limits = limits
		species[key(name)] = sp
	}
	t.Species = species
}

// Validate reports structural problems in the table.
func (t *Table) Validate() error {
	var errs []error
	if t.Bands.SafeMaxPercent <= 0 || t.Bands.BorderlineMaxPercent < t.Bands.SafeMaxPercent {
		errs = append(errs, fmt.Errorf("risk_bands: need 0 < safe_max_percent <= borderline_max_percent, got %v/%v",
			t.Bands.SafeMaxPercent, t.Bands.BorderlineMaxPercent))
	}
	for _, name := range t.SpeciesNames() {
		sp := t.Species[name]
		for _, m := range sp.Matrices {
			if !m.Valid() {
				errs = append(errs, fmt.Errorf("%s: unknown matrix %q", name, m))
			}
		}
		for matrix, byIngredient := range sp.Limits {
			if !matrix.Valid() {
				errs = append(errs, fmt.Errorf("%s: residue_limits for unknown matrix %q", name, matrix))
				continue
			}
			for ingredient, tissues := range byIngredient {
				for tissue := range tissues {
					if !containsTissue(matrix, tissue) {
						errs = append(errs, fmt.Errorf("%s/%s/%s: tissue %q not in matrix", name, matrix, ingredient, tissue))
					}
				}
			}
		}
		for _, m := range t.Medicines(name) {
			if m.RecommendedDose.Max < m.RecommendedDose.Min {
				errs = append(errs, fmt.Errorf("%s/%s/%s: recommended_dose max below min", name, m.Category, m.Name))
			}
			if m.PK.HalfLifeDays < 0 {
				errs = append(errs, fmt.Errorf("%s/%s/%s: negative half_life_days", name, m.Category, m.Name))
			}
			if m.SafeMaxPercent != nil && *m.SafeMaxPercent <= 0 {
				errs = append(errs, fmt.Errorf("%s/%s/%s: safe_max_percent must be positive", name, m.Category, m.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func containsTissue(m Matrix, tissue string) bool {
	for _, t := range m.Tissues() {
		if t == tissue {
			return true
		}
	}
	return false
}

// Summary counts rows for the CLI reference check.
type Summary struct {
	Species   int
	Medicines int
	Limits    int
}

func (t *Table) Summarise() Summary {
	var s Summary
	s.Species = len(t.Species)
	for name, sp := range t.Species {
		s.Medicines += len(t.Medicines(name))
		for _, byIngredient := range sp.Limits {
			for _, tissues := range byIngredient {
				s.Limits += len(tissues)
			}
		}
	}
	return s
}
