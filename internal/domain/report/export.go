package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/amutrack/amutrack/internal/domain/treatment"
)

const (
	SheetAMU     = "AMU"
	SheetTissues = "Tissue Results"
)

var amuHeadings = []interface{}{
	"AMU ID", "Treatment ID", "Entity ID", "Species", "Matrix", "Category", "Medicine",
	"Active Ingredient", "Dose", "Dose Unit", "Frequency/Day", "Duration (days)",
	"Start Date", "End Date", "Worst Tissue", "Risk Category", "Risk %", "Predicted MRL",
	"Withdrawal Days", "Safe Date", "Overdosage",
}

var tissueHeadings = []interface{}{
	"AMU ID", "Tissue", "Predicted MRL", "Base MRL", "Risk %", "Risk Category",
}

// WriteAMU renders records as a two sheet workbook: one row per record
// and one row per tissue result.
func WriteAMU(w io.Writer, records []*treatment.AMURecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetAMU); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetTissues); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	for sheet, headings := range map[string][]interface{}{SheetAMU: amuHeadings, SheetTissues: tissueHeadings} {
		if err := f.SetSheetRow(sheet, "A1", &headings); err != nil {
			return err
		}
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return err
		}
	}

	tissueRow := 2
	for i, a := range records {
		row := amuRow(a)
		if err := f.SetSheetRow(SheetAMU, cell(1, i+2), &row); err != nil {
			return fmt.Errorf("write amu row %d: %w", i+2, err)
		}
		for _, tr := range a.Tissues {
			values := []interface{}{
				a.ID.String(), tr.Tissue, tr.PredictedMRL, tr.BaseMRL, tr.RiskPercent, string(tr.RiskCategory),
			}
			if err := f.SetSheetRow(SheetTissues, cell(1, tissueRow), &values); err != nil {
				return fmt.Errorf("write tissue row %d: %w", tissueRow, err)
			}
			tissueRow++
		}
	}
	return f.Write(w)
}

func amuRow(a *treatment.AMURecord) []interface{} {
	row := []interface{}{
		a.ID.String(), a.TreatmentID.String(), a.EntityID.String(), a.Species, string(a.Matrix),
		a.MedicationType, a.Medicine, a.ActiveIngredient, a.DoseAmount, a.DoseUnit,
		a.FrequencyPerDay, a.DurationDays, a.StartDate.String(), a.EndDate.String(),
		"", "", "", "", "", "", a.Overdosage,
	}
	if a.WorstTissue != nil {
		row[14] = *a.WorstTissue
	}
	if a.RiskCategory != nil {
		row[15] = string(*a.RiskCategory)
	}
	if a.RiskPercent != nil {
		row[16] = *a.RiskPercent
	}
	if a.PredictedMRL != nil {
		row[17] = *a.PredictedMRL
	}
	if a.WithdrawalDays != nil {
		row[18] = *a.WithdrawalDays
	}
	if a.SafeDate != nil {
		row[19] = a.SafeDate.String()
	}
	return row
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
