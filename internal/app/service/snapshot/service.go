package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/types"
)

// ErrMissingAttribution means the payment row the snapshot would copy
// its ownership fields from does not exist yet. The caller should
// retry: the writer that created the event also creates the payment,
// it just may not be visible to this worker yet.
var ErrMissingAttribution = errors.New("payment row not found for snapshot attribution")

// Service maintains the denormalized per-payment read model.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// Patch lists the snapshot fields one event contributes. Nil fields
// are left as they are.
type Patch struct {
	Status            *types.PaymentStatus
	Currency          *string
	GrossCents        *int64
	PlatformFeeCents  *int64
	ProcessorFeeCents *int64
	NetToOrgCents     *int64
}

type ProjectResult struct {
	Deduped bool
}

// Project applies one event's patch to the payment's snapshot,
// creating the snapshot on first contact. Re-applying the event whose
// ID is already recorded as last applied is a no-op. Status moves only
// along valid transitions, so a late cancel event never drags a
// succeeded snapshot backwards.
func (s *Service) Project(ctx context.Context, eventID, paymentID string, patch *Patch) (*ProjectResult, error) {
	if eventID == "" || paymentID == "" {
		return nil, fmt.Errorf("projection requires event and payment ids")
	}

	result := &ProjectResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var snap models.PaymentSnapshot
		err := tx.Where("payment_id = ?", paymentID).First(&snap).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			created, cerr := s.create(tx, eventID, paymentID, patch)
			if cerr != nil {
				return cerr
			}
			snap = *created
			return nil
		case err != nil:
			return fmt.Errorf("failed to load snapshot for payment %s: %w", paymentID, err)
		}

		if snap.LastEventID == eventID {
			result.Deduped = true
			return nil
		}

		updates := map[string]any{
			"last_event_id": eventID,
			"updated_at":    time.Now(),
		}
		if patch.Status != nil && snap.Status.CanTransitionTo(*patch.Status) {
			updates["status"] = *patch.Status
		}
		if patch.Currency != nil && *patch.Currency != "" {
			updates["currency"] = *patch.Currency
		}
		if patch.GrossCents != nil {
			updates["gross_cents"] = *patch.GrossCents
		}
		if patch.PlatformFeeCents != nil {
			updates["platform_fee_cents"] = *patch.PlatformFeeCents
		}
		if patch.ProcessorFeeCents != nil {
			updates["processor_fee_cents"] = *patch.ProcessorFeeCents
		}
		if patch.NetToOrgCents != nil {
			updates["net_to_org_cents"] = *patch.NetToOrgCents
		}

		if err := tx.Model(&models.PaymentSnapshot{}).
			Where("payment_id = ?", paymentID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update snapshot for payment %s: %w", paymentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// create builds a snapshot from scratch. Ownership fields come from
// the payment row, not from the event, so events that arrive before
// the projector saw any status change still attribute correctly.
func (s *Service) create(tx *gorm.DB, eventID, paymentID string, patch *Patch) (*models.PaymentSnapshot, error) {
	var p models.Payment
	if err := tx.Where("id = ?", paymentID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrMissingAttribution
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", paymentID, err)
	}

	now := time.Now()
	snap := &models.PaymentSnapshot{
		PaymentID:   p.ID,
		OrgID:       p.OrgID,
		SourceType:  p.SourceType,
		SourceID:    p.SourceID,
		Status:      p.Status,
		Currency:    p.Currency,
		LastEventID: eventID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if patch.Status != nil && (snap.Status == *patch.Status || snap.Status.CanTransitionTo(*patch.Status)) {
		snap.Status = *patch.Status
	}
	if patch.Currency != nil && *patch.Currency != "" {
		snap.Currency = *patch.Currency
	}
	snap.GrossCents = patch.GrossCents
	snap.PlatformFeeCents = patch.PlatformFeeCents
	snap.ProcessorFeeCents = patch.ProcessorFeeCents
	snap.NetToOrgCents = patch.NetToOrgCents

	if err := tx.Create(snap).Error; err != nil {
		return nil, fmt.Errorf("failed to create snapshot for payment %s: %w", paymentID, err)
	}
	return snap, nil
}

// Get returns the snapshot for a payment, or nil when none exists.
func (s *Service) Get(ctx context.Context, paymentID string) (*models.PaymentSnapshot, error) {
	var snap models.PaymentSnapshot
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
