package vaccination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amutrack/amutrack/internal/platform/db"
	"github.com/amutrack/amutrack/pkg/calendar"
)

type historyRepoPG struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const historyColumns = `id, entity_id, treatment_id, vaccine_name, given_date, interval_days,
	next_due_date, vaccine_total_months, vaccine_end_date, created_at`

func (r *historyRepoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vaccination_history (
			id, entity_id, treatment_id, vaccine_name, given_date, interval_days,
			next_due_date, vaccine_total_months, vaccine_end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		e.ID, e.EntityID, e.TreatmentID, e.VaccineName, calendar.ToTime(e.GivenDate), e.IntervalDays,
		calendar.ToTime(e.NextDueDate), e.VaccineTotalMonths, calendar.ToTimePtr(e.VaccineEndDate),
	).Scan(&e.CreatedAt)
}

func (r *historyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+historyColumns+` FROM vaccination_history WHERE id = $1`, id))
}

func (r *historyRepoPG) Latest(ctx context.Context, treatmentID uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+historyColumns+` FROM vaccination_history
		WHERE treatment_id = $1
		ORDER BY given_date DESC, created_at DESC
		LIMIT 1`, treatmentID))
}

// LockChain takes a transaction-scoped advisory lock keyed on the
// treatment. Outside a transaction the lock is released immediately.
func (r *historyRepoPG) LockChain(ctx context.Context, treatmentID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, treatmentID.String())
	return err
}

func (r *historyRepoPG) ListByTreatment(ctx context.Context, treatmentID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM vaccination_history WHERE treatment_id = $1`, treatmentID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+historyColumns+` FROM vaccination_history
		WHERE treatment_id = $1
		ORDER BY given_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`, treatmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *historyRepoPG) UpdateDates(ctx context.Context, id uuid.UUID, given, nextDue calendar.Date) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE vaccination_history SET given_date = $2, next_due_date = $3 WHERE id = $1`,
		id, calendar.ToTime(given), calendar.ToTime(nextDue))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *historyRepoPG) ListHeads(ctx context.Context, f HeadFilter) ([]*DueEntry, error) {
	var inner, outer []string
	var args []interface{}
	idx := 1

	if f.FarmID != nil {
		inner = append(inner, fmt.Sprintf("t.farm_id = $%d", idx))
		args = append(args, *f.FarmID)
		idx++
	}
	if f.UserID != "" {
		inner = append(inner, fmt.Sprintf("t.user_id = $%d", idx))
		args = append(args, f.UserID)
		idx++
	}
	if f.DueFrom != nil {
		outer = append(outer, fmt.Sprintf("h.next_due_date >= $%d", idx))
		args = append(args, calendar.ToTime(*f.DueFrom))
		idx++
	}
	if f.DueTo != nil {
		outer = append(outer, fmt.Sprintf("h.next_due_date <= $%d", idx))
		args = append(args, calendar.ToTime(*f.DueTo))
	}

	query := `
		SELECT h.* FROM (
			SELECT DISTINCT ON (vh.treatment_id)
				vh.id, vh.entity_id, vh.treatment_id, vh.vaccine_name, vh.given_date, vh.interval_days,
				vh.next_due_date, vh.vaccine_total_months, vh.vaccine_end_date, vh.created_at,
				t.user_id, t.farm_id, t.medicine
			FROM vaccination_history vh
			JOIN treatment t ON t.id = vh.treatment_id` + where(inner) + `
			ORDER BY vh.treatment_id, vh.given_date DESC, vh.created_at DESC
		) h` + where(outer) + `
		ORDER BY h.next_due_date ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DueEntry
	for rows.Next() {
		var d DueEntry
		var given, next time.Time
		var end *time.Time
		if err := rows.Scan(&d.ID, &d.EntityID, &d.TreatmentID, &d.VaccineName, &given, &d.IntervalDays,
			&next, &d.VaccineTotalMonths, &end, &d.CreatedAt,
			&d.UserID, &d.FarmID, &d.Medicine); err != nil {
			return nil, err
		}
		d.GivenDate = calendar.FromTime(given)
		d.NextDueDate = calendar.FromTime(next)
		d.VaccineEndDate = calendar.FromTimePtr(end)
		items = append(items, &d)
	}
	return items, rows.Err()
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "\n\t\t\tWHERE " + strings.Join(clauses, " AND ")
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var given, next time.Time
	var end *time.Time
	err := row.Scan(&e.ID, &e.EntityID, &e.TreatmentID, &e.VaccineName, &given, &e.IntervalDays,
		&next, &e.VaccineTotalMonths, &end, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.GivenDate = calendar.FromTime(given)
	e.NextDueDate = calendar.FromTime(next)
	e.VaccineEndDate = calendar.FromTimePtr(end)
	return &e, nil
}
