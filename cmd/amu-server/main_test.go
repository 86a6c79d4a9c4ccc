package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPredictCommand(t *testing.T) {
	out, err := execute(t, "predict",
		"--species", "cattle", "--category", "antibiotic", "--medicine", "Oxytetracycline",
		"--dose", "10", "--duration", "3", "--end", "2024-05-01", "--eval", "2024-05-01")
	if err != nil {
		t.Fatalf("predict: %v\n%s", err, out)
	}

	var pred struct {
		WorstTissue    string `json:"worst_tissue"`
		RiskCategory   string `json:"risk_category"`
		WithdrawalDays int    `json:"predicted_withdrawal_days"`
		SafeDate       string `json:"safe_date"`
	}
	if err := json.Unmarshal([]byte(out), &pred); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if pred.WorstTissue != "muscle" || pred.WithdrawalDays != 7 || pred.SafeDate != "2024-05-08" {
		t.Errorf("unexpected prediction: %+v", pred)
	}
}

func TestPredictCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing flags", []string{"predict", "--dose", "1", "--duration", "1"}, "--category, --end, --medicine, --species"},
		{"bad matrix", []string{"predict", "--species", "cattle", "--category", "antibiotic", "--medicine", "Oxytetracycline",
			"--dose", "1", "--duration", "1", "--end", "2024-05-01", "--matrix", "wool"}, "--matrix"},
		{"bad date", []string{"predict", "--species", "cattle", "--category", "antibiotic", "--medicine", "Oxytetracycline",
			"--dose", "1", "--duration", "1", "--end", "01/05/2024"}, "--end"},
		{"unknown medicine", []string{"predict", "--species", "cattle", "--category", "antibiotic", "--medicine", "Nothing",
			"--dose", "1", "--duration", "1", "--end", "2024-05-01"}, "no residue reference data"},
		{"dose too large", []string{"predict", "--species", "cattle", "--category", "antibiotic", "--medicine", "Oxytetracycline",
			"--dose", "1e308", "--duration", "1", "--end", "2024-05-01"}, "--dose must be"},
		{"dose not a number", []string{"predict", "--species", "cattle", "--category", "antibiotic", "--medicine", "Oxytetracycline",
			"--dose", "NaN", "--duration", "1", "--end", "2024-05-01"}, "--dose must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestReferenceCheck_Embedded(t *testing.T) {
	out, err := execute(t, "reference", "check")
	if err != nil {
		t.Fatalf("reference check: %v", err)
	}
	if !strings.Contains(out, "embedded") || !strings.Contains(out, "medicines") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestReferenceCheck_MissingFile(t *testing.T) {
	if _, err := execute(t, "reference", "check", "--file", "/nonexistent/table.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
