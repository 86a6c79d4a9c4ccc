package treatment

import (
	"context"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/internal/domain/vaccination"
)

// VaccinationSource lets the vaccination service resolve treatments
// without importing this package.
type VaccinationSource struct {
	Repo TreatmentRepository
}

func (s VaccinationSource) TreatmentRef(ctx context.Context, id uuid.UUID) (*vaccination.TreatmentRef, error) {
	t, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Ref(), nil
}
