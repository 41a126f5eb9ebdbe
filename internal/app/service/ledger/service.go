package ledger

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
)

// Service posts immutable accounting rows for completed checkouts.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

type PostInput struct {
	OrgID     string
	PaymentID string
	// DedupeKey seeds each line's entry key. Replaying the posting
	// operation regenerates identical keys and inserts nothing.
	DedupeKey string
	Currency  string
	LineItems []eventlog.LineItem
}

// PostLineItems writes one ledger row per checkout line.
func (s *Service) PostLineItems(ctx context.Context, in *PostInput) (int, error) {
	if in == nil || in.PaymentID == "" || in.DedupeKey == "" {
		return 0, fmt.Errorf("ledger posting requires a payment id and dedupe key")
	}

	posted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, item := range in.LineItems {
			ticketTypeID := item.TicketTypeID
			row := &models.LedgerEntry{
				ID:             tool.GenerateUUIDV7(),
				OrgID:          in.OrgID,
				PaymentID:      in.PaymentID,
				EntryKey:       fmt.Sprintf("%s:%d", in.DedupeKey, i),
				Description:    item.Description,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				AmountCents:    int64(item.Quantity) * item.UnitPriceCents,
				Currency:       in.Currency,
				CreatedAt:      time.Now(),
			}
			if ticketTypeID != "" {
				row.TicketTypeID = &ticketTypeID
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entry_key"}},
				DoNothing: true,
			}).Create(row)
			if res.Error != nil {
				return fmt.Errorf("failed to post ledger entry %s: %w", row.EntryKey, res.Error)
			}
			if res.RowsAffected > 0 {
				posted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return posted, nil
}

// ListByPayment returns all posted rows for a payment, oldest first.
func (s *Service) ListByPayment(ctx context.Context, paymentID string) ([]*models.LedgerEntry, error) {
	var rows []*models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for payment %s: %w", paymentID, err)
	}
	return rows, nil
}
