package treatment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/pkg/calendar"
)

var (
	ErrNotFound    = errors.New("treatment not found")
	ErrAMUNotFound = errors.New("amu record not found")
)

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	Update(ctx context.Context, t *Treatment) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Treatment, int, error)
	// ActiveUntil returns the latest end date among the entity's treatments
	// ending on or after from, ignoring exclude. Nil means none.
	ActiveUntil(ctx context.Context, entityID uuid.UUID, from calendar.Date, exclude *uuid.UUID) (*calendar.Date, error)
}

type AMURepository interface {
	Create(ctx context.Context, a *AMURecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*AMURecord, error)
	ListByTreatment(ctx context.Context, treatmentID uuid.UUID) ([]*AMURecord, error)
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*AMURecord, error)
	// UpdateInputs rewrites the treatment inputs copied onto a record.
	UpdateInputs(ctx context.Context, a *AMURecord) error
	// ReplacePrediction overwrites the aggregate fields and swaps the whole
	// tissue result set atomically.
	ReplacePrediction(ctx context.Context, a *AMURecord) error
	ListActiveWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*Withdrawal, error)
	Search(ctx context.Context, f SearchFilter) ([]*AMURecord, error)
}

type WithdrawalFilter struct {
	FarmID *uuid.UUID
	UserID string
	On     calendar.Date
}

type SearchFilter struct {
	Species string
	FarmID  *uuid.UUID
	From    *calendar.Date
	To      *calendar.Date
	Risk    residue.RiskCategory
	Limit   int
}
