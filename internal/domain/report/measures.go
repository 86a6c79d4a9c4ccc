package report

import (
	"context"
	"time"

	"github.com/amutrack/amutrack/internal/platform/db"
)

// MeasureDefinition is a fixed aggregate query over the AMU tables.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "amu-by-risk",
		Name:        "AMU Records by Risk Category",
		Description: "Number of AMU records per predicted risk category",
		SQL: `SELECT COALESCE(risk_category, 'unpredicted') AS risk_category, COUNT(*) AS total
			FROM amu_record GROUP BY 1 ORDER BY total DESC`,
	},
	{
		ID:          "amu-by-species",
		Name:        "AMU Records by Species",
		Description: "AMU records and overdosage counts per species",
		SQL: `SELECT species, COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN overdosage THEN 1 ELSE 0 END), 0) AS overdosage_count
			FROM amu_record GROUP BY species ORDER BY total DESC`,
	},
	{
		ID:          "overdosage-by-medicine",
		Name:        "Overdosage by Medicine",
		Description: "Medicines most often recorded above the recommended dose",
		SQL: `SELECT medicine, COUNT(*) AS total FROM amu_record
			WHERE overdosage GROUP BY medicine ORDER BY total DESC`,
	},
	{
		ID:          "active-withdrawals-by-farm",
		Name:        "Active Withdrawals by Farm",
		Description: "AMU records whose safe date is still ahead, per farm",
		SQL: `SELECT t.farm_id, COUNT(*) AS total, MAX(a.safe_date) AS latest_safe_date
			FROM amu_record a JOIN treatment t ON t.id = a.treatment_id
			WHERE a.safe_date > CURRENT_DATE
			GROUP BY t.farm_id ORDER BY total DESC`,
	},
}

func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Evaluate runs m and returns one map per row keyed by column name.
func Evaluate(ctx context.Context, q db.Querier, m *MeasureDefinition) (*MeasureReport, error) {
	rows, err := q.Query(ctx, m.SQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}, nil
}
