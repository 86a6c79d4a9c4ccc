package treatment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/pkg/calendar"
)

const (
	VerifyPass = "PASS"
	VerifyFail = "FAIL"
	// VerifyUnknown means no record carries a predicted safe date, so the
	// entity can be neither released nor held on residue grounds.
	VerifyUnknown = "UNKNOWN"
)

// Verification is the public answer to a QR scan of an animal or batch.
type Verification struct {
	EntityID             uuid.UUID             `json:"entity_id"`
	Status               string                `json:"status"`
	MRLPass              bool                  `json:"mrl_pass"`
	CheckedOn            calendar.Date         `json:"checked_on"`
	WithdrawalFinishDate *calendar.Date        `json:"withdrawal_finish_date"`
	DaysRemaining        int                   `json:"days_remaining"`
	WorstTissue          *string               `json:"worst_tissue"`
	RiskCategory         *residue.RiskCategory `json:"risk_category"`
	TreatmentCount       int                   `json:"treatment_count"`
	Records              []VerifiedRecord      `json:"amu_records"`
}

// VerifiedRecord is the public subset of an AMU record.
type VerifiedRecord struct {
	ID               uuid.UUID             `json:"amu_id"`
	Medicine         string                `json:"medicine"`
	ActiveIngredient string                `json:"active_ingredient,omitempty"`
	EndDate          calendar.Date         `json:"end_date"`
	SafeDate         *calendar.Date        `json:"safe_date"`
	WithdrawalDays   *int                  `json:"predicted_withdrawal_days"`
	WorstTissue      *string               `json:"worst_tissue"`
	RiskCategory     *residue.RiskCategory `json:"risk_category"`
}

// Verify passes an entity when every predicted safe date is on or before
// today. An entity with no predicted safe date at all is UNKNOWN and never
// passes.
func (s *Service) Verify(ctx context.Context, entityID uuid.UUID) (*Verification, error) {
	_, treatments, err := s.treatments.ListByEntity(ctx, entityID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("count treatments: %w", err)
	}
	records, err := s.amu.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("list amu records: %w", err)
	}
	if treatments == 0 && len(records) == 0 {
		return nil, ErrNotFound
	}

	today := s.today()
	v := &Verification{
		EntityID:       entityID,
		CheckedOn:      today,
		TreatmentCount: treatments,
		Records:        make([]VerifiedRecord, 0, len(records)),
	}
	var latest *AMURecord
	for _, a := range records {
		v.Records = append(v.Records, VerifiedRecord{
			ID:               a.ID,
			Medicine:         a.Medicine,
			ActiveIngredient: a.ActiveIngredient,
			EndDate:          a.EndDate,
			SafeDate:         a.SafeDate,
			WithdrawalDays:   a.WithdrawalDays,
			WorstTissue:      a.WorstTissue,
			RiskCategory:     a.RiskCategory,
		})
		if a.SafeDate != nil && (v.WithdrawalFinishDate == nil || a.SafeDate.After(*v.WithdrawalFinishDate)) {
			d := *a.SafeDate
			v.WithdrawalFinishDate = &d
		}
		if latest == nil || !a.CreatedAt.Before(latest.CreatedAt) {
			latest = a
		}
	}
	if latest != nil {
		v.WorstTissue, v.RiskCategory = latest.WorstTissue, latest.RiskCategory
	}

	if v.WithdrawalFinishDate == nil {
		v.Status = VerifyUnknown
		return v, nil
	}
	v.DaysRemaining = calendar.DaysElapsed(today, *v.WithdrawalFinishDate)
	v.MRLPass = v.DaysRemaining == 0
	v.Status = VerifyFail
	if v.MRLPass {
		v.Status = VerifyPass
	}
	return v, nil
}
