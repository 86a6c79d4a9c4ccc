package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amutrack/amutrack/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const notificationColumns = `id, user_id, type, message, entity_id, treatment_id, vacc_id, is_read, created_at`

func (s *storePG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO notification (id, user_id, type, message, entity_id, treatment_id, vacc_id, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		n.ID, n.UserID, n.Type, n.Message, n.EntityID, n.TreatmentID, n.VaccID, n.Read,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *storePG) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	q := db.Conn(ctx, s.pool)
	where := `WHERE user_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM notification `+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+notificationColumns+` FROM notification `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.EntityID,
			&n.TreatmentID, &n.VaccID, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &n)
	}
	return out, total, rows.Err()
}

func (s *storePG) MarkRead(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE notification SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
