package vaccination

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/pkg/calendar"
)

var ErrNotFound = errors.New("vaccination history entry not found")

type HistoryRepository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// Latest returns the chain head for a treatment, or ErrNotFound.
	Latest(ctx context.Context, treatmentID uuid.UUID) (*Entry, error)
	ListByTreatment(ctx context.Context, treatmentID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	UpdateDates(ctx context.Context, id uuid.UUID, given, nextDue calendar.Date) error
	// LockChain serialises writers of one treatment's chain until the
	// transaction carried by ctx ends.
	LockChain(ctx context.Context, treatmentID uuid.UUID) error
	// ListHeads returns chain heads whose next due date falls within the
	// filter, ordered by next due date.
	ListHeads(ctx context.Context, f HeadFilter) ([]*DueEntry, error)
}

type HeadFilter struct {
	FarmID  *uuid.UUID
	UserID  string
	DueFrom *calendar.Date
	DueTo   *calendar.Date
}

// TreatmentSource resolves the treatment a chain belongs to.
type TreatmentSource interface {
	TreatmentRef(ctx context.Context, id uuid.UUID) (*TreatmentRef, error)
}
