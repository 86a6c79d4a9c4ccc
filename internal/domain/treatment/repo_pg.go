package treatment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amutrack/amutrack/internal/domain/reference"
	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/platform/db"
	"github.com/amutrack/amutrack/pkg/calendar"
)

// -- Treatment Repository --

type treatmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewTreatmentRepo(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

func (r *treatmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const treatmentColumns = `id, entity_id, farm_id, user_id, species, matrix, medication_type, medicine,
	dose_amount, dose_unit, route, frequency_per_day, duration_days, start_date, end_date,
	vet_id, vet_name, reason, cause, status,
	vaccination_date, vaccine_interval_days, vaccine_total_months, next_due_date, vaccine_end_date,
	created_at, updated_at`

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO treatment (
			id, entity_id, farm_id, user_id, species, matrix, medication_type, medicine,
			dose_amount, dose_unit, route, frequency_per_day, duration_days, start_date, end_date,
			vet_id, vet_name, reason, cause, status,
			vaccination_date, vaccine_interval_days, vaccine_total_months, next_due_date, vaccine_end_date
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)
		RETURNING created_at, updated_at`,
		t.ID, t.EntityID, t.FarmID, t.UserID, t.Species, string(t.Matrix), t.MedicationType, t.Medicine,
		roundDose(t.DoseAmount), t.DoseUnit, nullable(t.Route), t.FrequencyPerDay, t.DurationDays,
		calendar.ToTime(t.StartDate), calendar.ToTime(t.EndDate),
		nullable(t.VetID), nullable(t.VetName), nullable(t.Reason), nullable(t.Cause), string(t.Status),
		calendar.ToTimePtr(t.VaccinationDate), t.VaccineIntervalDays, t.VaccineTotalMonths,
		calendar.ToTimePtr(t.NextDueDate), calendar.ToTimePtr(t.VaccineEndDate),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	return scanTreatment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+treatmentColumns+` FROM treatment WHERE id = $1`, id))
}

func (r *treatmentRepoPG) Update(ctx context.Context, t *Treatment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatment SET
			species = $2, matrix = $3, medication_type = $4, medicine = $5,
			dose_amount = $6, dose_unit = $7, route = $8, frequency_per_day = $9, duration_days = $10,
			start_date = $11, end_date = $12, vet_id = $13, vet_name = $14, reason = $15, cause = $16,
			status = $17, vaccination_date = $18, vaccine_interval_days = $19, vaccine_total_months = $20,
			next_due_date = $21, vaccine_end_date = $22, updated_at = NOW()
		WHERE id = $1`,
		t.ID, t.Species, string(t.Matrix), t.MedicationType, t.Medicine,
		roundDose(t.DoseAmount), t.DoseUnit, nullable(t.Route), t.FrequencyPerDay, t.DurationDays,
		calendar.ToTime(t.StartDate), calendar.ToTime(t.EndDate),
		nullable(t.VetID), nullable(t.VetName), nullable(t.Reason), nullable(t.Cause),
		string(t.Status), calendar.ToTimePtr(t.VaccinationDate), t.VaccineIntervalDays, t.VaccineTotalMonths,
		calendar.ToTimePtr(t.NextDueDate), calendar.ToTimePtr(t.VaccineEndDate),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *treatmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM treatment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *treatmentRepoPG) ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM treatment WHERE entity_id = $1`, entityID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+treatmentColumns+` FROM treatment
		WHERE entity_id = $1
		ORDER BY start_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *treatmentRepoPG) ActiveUntil(ctx context.Context, entityID uuid.UUID, from calendar.Date, exclude *uuid.UUID) (*calendar.Date, error) {
	var end *time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT MAX(end_date) FROM treatment
		WHERE entity_id = $1 AND end_date >= $2 AND ($3::uuid IS NULL OR id <> $3)`,
		entityID, calendar.ToTime(from), exclude,
	).Scan(&end)
	if err != nil {
		return nil, err
	}
	return calendar.FromTimePtr(end), nil
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	var matrix, status string
	var route, vetID, vetName, reason, cause *string
	var start, end time.Time
	var vaccDate, nextDue, vaccEnd *time.Time
	err := row.Scan(&t.ID, &t.EntityID, &t.FarmID, &t.UserID, &t.Species, &matrix, &t.MedicationType, &t.Medicine,
		&t.DoseAmount, &t.DoseUnit, &route, &t.FrequencyPerDay, &t.DurationDays, &start, &end,
		&vetID, &vetName, &reason, &cause, &status,
		&vaccDate, &t.VaccineIntervalDays, &t.VaccineTotalMonths, &nextDue, &vaccEnd,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Matrix = reference.Matrix(matrix)
	t.Status = Status(status)
	t.Route, t.VetID, t.VetName = deref(route), deref(vetID), deref(vetName)
	t.Reason, t.Cause = deref(reason), deref(cause)
	t.StartDate, t.EndDate = calendar.FromTime(start), calendar.FromTime(end)
	t.VaccinationDate = calendar.FromTimePtr(vaccDate)
	t.NextDueDate = calendar.FromTimePtr(nextDue)
	t.VaccineEndDate = calendar.FromTimePtr(vaccEnd)
	return &t, nil
}

// -- AMU Repository --

type amuRepoPG struct {
	pool *pgxpool.Pool
}

func NewAMURepo(pool *pgxpool.Pool) AMURepository {
	return &amuRepoPG{pool: pool}
}

func (r *amuRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const amuColumns = `a.id, a.treatment_id, a.entity_id, a.user_id, a.species, a.matrix, a.medication_type,
	a.medicine, a.active_ingredient, a.dose_amount, a.dose_unit, a.frequency_per_day, a.duration_days,
	a.start_date, a.end_date, a.worst_tissue, a.risk_category, a.predicted_mrl, a.risk_percent,
	a.predicted_withdrawal_days, a.safe_date, a.overdosage, a.message, a.created_at, a.updated_at`

func (r *amuRepoPG) Create(ctx context.Context, a *AMURecord) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO amu_record (
			id, treatment_id, entity_id, user_id, species, matrix, medication_type, medicine,
			active_ingredient, dose_amount, dose_unit, frequency_per_day, duration_days,
			start_date, end_date, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		a.ID, a.TreatmentID, a.EntityID, a.UserID, a.Species, string(a.Matrix), a.MedicationType, a.Medicine,
		nullable(a.ActiveIngredient), roundDose(a.DoseAmount), a.DoseUnit, a.FrequencyPerDay, a.DurationDays,
		calendar.ToTime(a.StartDate), calendar.ToTime(a.EndDate), nullable(a.Message),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *amuRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AMURecord, error) {
	a, err := scanAMU(r.conn(ctx).QueryRow(ctx, `SELECT `+amuColumns+` FROM amu_record a WHERE a.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadTissues(ctx, []*AMURecord{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *amuRepoPG) ListByTreatment(ctx context.Context, treatmentID uuid.UUID) ([]*AMURecord, error) {
	return r.list(ctx, `SELECT `+amuColumns+` FROM amu_record a WHERE a.treatment_id = $1 ORDER BY a.created_at`, treatmentID)
}

func (r *amuRepoPG) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*AMURecord, error) {
	return r.list(ctx, `SELECT `+amuColumns+` FROM amu_record a WHERE a.entity_id = $1 ORDER BY a.created_at`, entityID)
}

func (r *amuRepoPG) Search(ctx context.Context, f SearchFilter) ([]*AMURecord, error) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Species != "" {
		add("a.species = $%d", f.Species)
	}
	if f.FarmID != nil {
		add("t.farm_id = $%d", *f.FarmID)
	}
	if f.From != nil {
		add("a.end_date >= $%d", calendar.ToTime(*f.From))
	}
	if f.To != nil {
		add("a.end_date <= $%d", calendar.ToTime(*f.To))
	}
	if f.Risk != "" {
		add("a.risk_category = $%d", string(f.Risk))
	}

	query := `SELECT ` + amuColumns + ` FROM amu_record a JOIN treatment t ON t.id = a.treatment_id`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY a.end_date DESC, a.created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return r.list(ctx, query, args...)
}

func (r *amuRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*AMURecord, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var items []*AMURecord
	for rows.Next() {
		a, err := scanAMU(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadTissues(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *amuRepoPG) loadTissues(ctx context.Context, items []*AMURecord) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*AMURecord, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, a := range items {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT amu_id, tissue, predicted_mrl, base_mrl, risk_percent, risk_category
		FROM tissue_result WHERE amu_id = ANY($1)
		ORDER BY amu_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var amuID uuid.UUID
		var tr residue.TissueResult
		var cat string
		if err := rows.Scan(&amuID, &tr.Tissue, &tr.PredictedMRL, &tr.BaseMRL, &tr.RiskPercent, &cat); err != nil {
			return err
		}
		tr.RiskCategory = residue.RiskCategory(cat)
		if a := byID[amuID]; a != nil {
			a.Tissues = append(a.Tissues, tr)
		}
	}
	return rows.Err()
}

func (r *amuRepoPG) UpdateInputs(ctx context.Context, a *AMURecord) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE amu_record SET
			species = $2, matrix = $3, medication_type = $4, medicine = $5,
			dose_amount = $6, dose_unit = $7, frequency_per_day = $8, duration_days = $9,
			start_date = $10, end_date = $11, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Species, string(a.Matrix), a.MedicationType, a.Medicine,
		roundDose(a.DoseAmount), a.DoseUnit, a.FrequencyPerDay, a.DurationDays,
		calendar.ToTime(a.StartDate), calendar.ToTime(a.EndDate))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAMUNotFound
	}
	return nil
}

// ReplacePrediction rewrites the aggregate and the whole tissue result
// set of a. It joins the transaction in ctx or opens its own.
func (r *amuRepoPG) ReplacePrediction(ctx context.Context, a *AMURecord) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var cat *string
		if a.RiskCategory != nil {
			s := string(*a.RiskCategory)
			cat = &s
		}
		tag, err := q.Exec(ctx, `
			UPDATE amu_record SET
				active_ingredient = $2, worst_tissue = $3, risk_category = $4, predicted_mrl = $5,
				risk_percent = $6, predicted_withdrawal_days = $7, safe_date = $8, overdosage = $9,
				message = $10, updated_at = NOW()
			WHERE id = $1`,
			a.ID, nullable(a.ActiveIngredient), a.WorstTissue, cat, storedMRLPtr(a.PredictedMRL),
			storedPercentPtr(a.RiskPercent), a.WithdrawalDays, calendar.ToTimePtr(a.SafeDate), a.Overdosage,
			nullable(a.Message))
		if err != nil {
			return fmt.Errorf("update amu aggregate: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAMUNotFound
		}

		if _, err := q.Exec(ctx, `DELETE FROM tissue_result WHERE amu_id = $1`, a.ID); err != nil {
			return fmt.Errorf("clear tissue results: %w", err)
		}
		for i, tr := range a.Tissues {
			_, err := q.Exec(ctx, `
				INSERT INTO tissue_result (id, amu_id, tissue, predicted_mrl, base_mrl, risk_percent, risk_category, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New(), a.ID, tr.Tissue, storedMRL(tr.PredictedMRL), storedMRL(tr.BaseMRL),
				storedPercent(tr.RiskPercent), string(tr.RiskCategory), i)
			if err != nil {
				return fmt.Errorf("insert tissue result %s: %w", tr.Tissue, err)
			}
		}
		return nil
	})
}

func (r *amuRepoPG) ListActiveWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*Withdrawal, error) {
	args := []interface{}{calendar.ToTime(f.On)}
	query := `
		SELECT a.id, a.treatment_id, a.entity_id, t.farm_id, a.species, a.medicine,
			COALESCE(a.worst_tissue, ''), COALESCE(a.risk_category, ''), a.safe_date
		FROM amu_record a
		JOIN treatment t ON t.id = a.treatment_id
		WHERE a.safe_date > $1`
	if f.FarmID != nil {
		args = append(args, *f.FarmID)
		query += fmt.Sprintf(" AND t.farm_id = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND t.user_id = $%d", len(args))
	}
	query += ` ORDER BY a.safe_date DESC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Withdrawal
	for rows.Next() {
		var w Withdrawal
		var safe time.Time
		if err := rows.Scan(&w.AMUID, &w.TreatmentID, &w.EntityID, &w.FarmID, &w.Species, &w.Medicine,
			&w.WorstTissue, &w.RiskCategory, &safe); err != nil {
			return nil, err
		}
		w.SafeDate = calendar.FromTime(safe)
		w.DaysRemaining = calendar.DaysBetween(f.On, w.SafeDate)
		items = append(items, &w)
	}
	return items, rows.Err()
}

func scanAMU(row pgx.Row) (*AMURecord, error) {
	var a AMURecord
	var matrix string
	var ingredient, cat, message *string
	var start, end time.Time
	var safe *time.Time
	err := row.Scan(&a.ID, &a.TreatmentID, &a.EntityID, &a.UserID, &a.Species, &matrix, &a.MedicationType,
		&a.Medicine, &ingredient, &a.DoseAmount, &a.DoseUnit, &a.FrequencyPerDay, &a.DurationDays,
		&start, &end, &a.WorstTissue, &cat, &a.PredictedMRL, &a.RiskPercent,
		&a.WithdrawalDays, &safe, &a.Overdosage, &message, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAMUNotFound
		}
		return nil, err
	}
	a.Matrix = reference.Matrix(matrix)
	a.ActiveIngredient, a.Message = deref(ingredient), deref(message)
	if cat != nil {
		rc := residue.RiskCategory(*cat)
		a.RiskCategory = &rc
	}
	a.StartDate, a.EndDate = calendar.FromTime(start), calendar.FromTime(end)
	a.SafeDate = calendar.FromTimePtr(safe)
	return &a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
