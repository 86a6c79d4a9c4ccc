package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amutrack/amutrack/internal/config"
	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/treatment"
	"github.com/amutrack/amutrack/internal/platform/db"
	"github.com/amutrack/amutrack/migrations"
	"github.com/amutrack/amutrack/pkg/calendar"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Inspect the residue reference table",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Parse and validate a reference table",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			table, err := reference.Load(file)
			if err != nil {
				return err
			}
			source := file
			if source == "" {
				source = "embedded"
			}
			sum := table.Summarise()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reference table %s (version %s) is valid.\n", source, table.Version)
			fmt.Fprintf(out, "%-10s %d\n%-10s %d\n%-10s %d\n",
				"species", sum.Species, "medicines", sum.Medicines, "limits", sum.Limits)
			return nil
		},
	}
	checkCmd.Flags().String("file", "", "YAML table to check (defaults to the embedded table)")
	cmd.AddCommand(checkCmd)

	return cmd
}

type predictFlags struct {
	table     string
	species   string
	category  string
	medicine  string
	dose      float64
	unit      string
	frequency int
	duration  int
	matrix    string
	end       string
	eval      string
}

func (f *predictFlags) input(today calendar.Date) (residue.Input, error) {
	in := residue.Input{
		Species:         f.species,
		Category:        f.category,
		Medicine:        f.medicine,
		DoseAmount:      f.dose,
		DoseUnit:        f.unit,
		FrequencyPerDay: f.frequency,
		DurationDays:    f.duration,
		Matrix:          reference.Matrix(strings.ToLower(f.matrix)),
		EvaluationDate:  today,
	}
	var missing []string
	for name, v := range map[string]string{"species": f.species, "category": f.category, "medicine": f.medicine, "end": f.end} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return in, fmt.Errorf("required flags not set: %s", strings.Join(missing, ", "))
	}
	if !(f.dose > 0 && f.dose <= residue.MaxDoseAmount) || f.duration <= 0 || f.frequency < 0 {
		return in, fmt.Errorf("--dose must be in (0, %g], --duration positive and --frequency non-negative", residue.MaxDoseAmount)
	}
	switch in.Matrix {
	case reference.MatrixMeat, reference.MatrixMilk, reference.MatrixEgg:
	default:
		return in, fmt.Errorf("--matrix must be one of meat, milk, egg; got %q", f.matrix)
	}

	end, err := calendar.Parse(f.end)
	if err != nil {
		return in, fmt.Errorf("--end: %w", err)
	}
	in.EndDate = end
	if f.eval != "" {
		if in.EvaluationDate, err = calendar.Parse(f.eval); err != nil {
			return in, fmt.Errorf("--eval: %w", err)
		}
	}
	return in, nil
}

func predictCmd() *cobra.Command {
	f := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a one-off residue prediction and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.input(calendar.Today(time.UTC))
			if err != nil {
				return err
			}
			table, err := reference.Load(f.table)
			if err != nil {
				return err
			}
			pred, ok := residue.NewPredictor(table).Predict(in)
			if !ok {
				return errors.New(treatment.MessageLookupMiss)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pred)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.table, "table", "", "YAML reference table (defaults to the embedded table)")
	fl.StringVar(&f.species, "species", "", "Species, e.g. cattle")
	fl.StringVar(&f.category, "category", "", "Medication category, e.g. antibiotic")
	fl.StringVar(&f.medicine, "medicine", "", "Medicine name")
	fl.Float64Var(&f.dose, "dose", 0, "Dose amount")
	fl.StringVar(&f.unit, "unit", "mg/kg", "Dose unit")
	fl.IntVar(&f.frequency, "frequency", 1, "Administrations per day")
	fl.IntVar(&f.duration, "duration", 0, "Treatment duration in days")
	fl.StringVar(&f.matrix, "matrix", "meat", "Product matrix: meat, milk or egg")
	fl.StringVar(&f.end, "end", "", "Treatment end date (YYYY-MM-DD)")
	fl.StringVar(&f.eval, "eval", "", "Evaluation date (YYYY-MM-DD, defaults to today)")
	return cmd
}
