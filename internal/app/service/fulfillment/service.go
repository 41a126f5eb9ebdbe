package fulfillment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/tool"
	"github.com/eventora/treasury/pkg/types"
)

// Service grants purchased line items and manages cart reservations.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

type GrantInput struct {
	OrgID      string
	PaymentID  string
	SourceType types.SourceType
	SourceID   string
	LineItems  []eventlog.LineItem
}

// GrantLineItems creates one registration per line item. The unique
// index over (payment, ticket type) makes replays converge: already
// granted lines are skipped row by row.
func (s *Service) GrantLineItems(ctx context.Context, in *GrantInput) (int, error) {
	if in == nil || in.PaymentID == "" {
		return 0, fmt.Errorf("grant requires a payment id")
	}

	granted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range in.LineItems {
			row := &models.Registration{
				ID:             tool.GenerateUUIDV7(),
				OrgID:          in.OrgID,
				PaymentID:      in.PaymentID,
				SourceType:     in.SourceType,
				SourceID:       in.SourceID,
				TicketTypeID:   item.TicketTypeID,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				CreatedAt:      time.Now(),
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "payment_id"}, {Name: "ticket_type_id"}},
				DoNothing: true,
			}).Create(row)
			if res.Error != nil {
				return fmt.Errorf("failed to grant line %s: %w", item.TicketTypeID, res.Error)
			}
			if res.RowsAffected > 0 {
				granted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if granted > 0 {
		s.log.Infow("granted line items", "paymentId", in.PaymentID, "count", granted)
	}
	return granted, nil
}

// CompleteReservation marks the cart lock consumed once payment
// succeeded.
func (s *Service) CompleteReservation(ctx context.Context, sourceType types.SourceType, sourceID string) error {
	err := s.db.WithContext(ctx).Model(&models.OrderReservation{}).
		Where("source_type = ? AND source_id = ? AND status = ?",
			sourceType, sourceID, models.OrderReservationStatusPending).
		Updates(map[string]any{
			"status":     models.OrderReservationStatusCompleted,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete reservation for %s/%s: %w", sourceType, sourceID, err)
	}
	return nil
}

// ReleaseReservation frees the cart lock after a failed or cancelled
// payment. The update is conditional on the reservation still being
// pending and still tied to the triggering intent, so a stale cancel
// cannot release a lock a newer intent holds.
func (s *Service) ReleaseReservation(ctx context.Context, sourceType types.SourceType, sourceID, providerIntentID string) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.OrderReservation{}).
		Where("source_type = ? AND source_id = ? AND status = ?",
			sourceType, sourceID, models.OrderReservationStatusPending)
	if providerIntentID != "" {
		q = q.Where("provider_intent_id = ?", providerIntentID)
	}
	res := q.Updates(map[string]any{
		"status":     models.OrderReservationStatusReleased,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release reservation for %s/%s: %w", sourceType, sourceID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Infow("released order reservation", "sourceType", sourceType, "sourceId", sourceID)
	}
	return res.RowsAffected > 0, nil
}
