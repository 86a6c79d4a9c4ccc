package report

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/treatment"
	"github.com/amutrack/amutrack/pkg/calendar"
)

type fakeAMU struct {
	treatment.AMURepository
	records []*treatment.AMURecord
	filter  treatment.SearchFilter
}

func (f *fakeAMU) Search(_ context.Context, sf treatment.SearchFilter) ([]*treatment.AMURecord, error) {
	f.filter = sf
	return f.records, nil
}

func sampleRecords() []*treatment.AMURecord {
	predicted := &treatment.AMURecord{
		ID: uuid.New(), TreatmentID: uuid.New(), EntityID: uuid.New(),
		Species: "cattle", Matrix: reference.MatrixMeat, MedicationType: "antibiotic",
		Medicine: "Oxytetracycline", DoseAmount: 10, DoseUnit: "mg/kg", FrequencyPerDay: 1, DurationDays: 3,
		StartDate: calendar.Date{Year: 2024, Month: time.April, Day: 29},
		EndDate:   calendar.Date{Year: 2024, Month: time.May, Day: 1},
	}
	predicted.ApplyPrediction(&residue.Prediction{
		ActiveIngredient: "oxytetracycline",
		Tissues: []residue.TissueResult{
			{Tissue: "muscle", PredictedMRL: 400, BaseMRL: 100, RiskPercent: 400, RiskCategory: residue.RiskUnsafe},
			{Tissue: "liver", PredictedMRL: 1000, BaseMRL: 300, RiskPercent: 333.33, RiskCategory: residue.RiskUnsafe},
		},
		WorstTissue: "muscle", RiskCategory: residue.RiskUnsafe, PredictedMRL: 400, RiskPercent: 400,
		WithdrawalDays: 7, SafeDate: calendar.Date{Year: 2024, Month: time.May, Day: 8},
	})
	missed := &treatment.AMURecord{
		ID: uuid.New(), TreatmentID: uuid.New(), EntityID: uuid.New(),
		Species: "goat", Matrix: reference.MatrixMilk, Medicine: "Unlistedmycin",
		StartDate: calendar.Date{Year: 2024, Month: time.May, Day: 1},
		EndDate:   calendar.Date{Year: 2024, Month: time.May, Day: 1},
	}
	return []*treatment.AMURecord{predicted, missed}
}

func TestWriteAMU(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer
	if err := WriteAMU(&buf, records); err != nil {
		t.Fatalf("WriteAMU: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetAMU)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "AMU ID" || rows[0][19] != "Safe Date" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][6] != "Oxytetracycline" || rows[1][15] != "unsafe" || rows[1][19] != "2024-05-08" {
		t.Errorf("unexpected predicted row: %v", rows[1])
	}
	if len(rows[2]) > 15 && rows[2][15] != "" {
		t.Errorf("lookup miss should leave risk empty: %v", rows[2])
	}

	tissues, err := f.GetRows(SheetTissues)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(tissues) != 3 || tissues[1][1] != "muscle" || tissues[2][1] != "liver" {
		t.Errorf("unexpected tissue sheet: %v", tissues)
	}
}

func TestExportAMU_Handler(t *testing.T) {
	repo := &fakeAMU{records: sampleRecords()}
	h := NewHandler(repo, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/reports/amu.xlsx?species=cattle&risk=unsafe&from=2024-01-01", nil)
	rec := httptest.NewRecorder()
	if err := h.ExportAMU(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ExportAMU: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("unexpected content type %q", ct)
	}
	if repo.filter.Species != "cattle" || repo.filter.Risk != residue.RiskUnsafe || repo.filter.From == nil {
		t.Errorf("filters not passed through: %+v", repo.filter)
	}
	if repo.filter.Limit != maxExportRows {
		t.Errorf("expected default limit %d, got %d", maxExportRows, repo.filter.Limit)
	}
}

func TestExportAMU_BadFilters(t *testing.T) {
	h := NewHandler(&fakeAMU{}, nil)
	e := echo.New()

	for _, q := range []string{"risk=deadly", "from=01/02/2024", "farm_id=farm-1", "limit=-1"} {
		req := httptest.NewRequest(http.MethodGet, "/reports/amu.xlsx?"+q, nil)
		rec := httptest.NewRecorder()
		err := h.ExportAMU(e.NewContext(req, rec))
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", q, err)
		}
	}
}

func TestMeasures(t *testing.T) {
	if len(PredefinedMeasures) != 4 {
		t.Fatalf("expected 4 measures, got %d", len(PredefinedMeasures))
	}
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		if FindMeasure(m.ID) == nil {
			t.Errorf("FindMeasure(%s) returned nil", m.ID)
		}
	}
	if FindMeasure("patient-count") != nil {
		t.Error("expected nil for unknown measure")
	}
}

func TestEvaluateMeasure_NoDatabase(t *testing.T) {
	h := NewHandler(&fakeAMU{}, nil)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("amu-by-risk")
	err := h.EvaluateMeasure(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err = h.EvaluateMeasure(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
