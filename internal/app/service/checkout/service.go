package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/payment"
	"github.com/eventora/treasury/pkg/types"
)

// ErrNotFree rejects a free-completion request whose lines still sum
// to a positive amount.
var ErrNotFree = errors.New("checkout total is not zero")

// Service completes zero-amount checkouts. Paid checkouts settle
// through the provider webhook path instead.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	payments *payment.Service
}

func New(db *gorm.DB, log *zap.SugaredLogger, payments *payment.Service) *Service {
	return &Service{db: db, log: log, payments: payments}
}

type CompleteFreeInput struct {
	OrgID      string
	SourceType types.SourceType
	SourceID   string
	// PurchaseID doubles as the idempotency key: re-submitting the
	// same free checkout is a no-op.
	PurchaseID    string
	Scenario      types.CheckoutScenario
	Currency      string
	DiscountCents int64
	LineItems     []eventlog.LineItem
}

type CompleteFreeResult struct {
	PaymentID string
	Deduped   bool
}

// CompleteFree settles a checkout whose discounted total is zero. The
// payment row, the status event and its outbox entry commit together.
func (s *Service) CompleteFree(ctx context.Context, in *CompleteFreeInput) (*CompleteFreeResult, error) {
	if in == nil || in.SourceID == "" || in.PurchaseID == "" {
		return nil, fmt.Errorf("free checkout requires a source and purchase id")
	}

	var subtotal int64
	for _, item := range in.LineItems {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("line %s has non-positive quantity", item.TicketTypeID)
		}
		subtotal += int64(item.Quantity) * item.UnitPriceCents
	}
	if subtotal-in.DiscountCents != 0 {
		return nil, fmt.Errorf("%w: %d cents remain after discount", ErrNotFree, subtotal-in.DiscountCents)
	}

	result := &CompleteFreeResult{}
	err := eventlog.Run(ctx, s.db, func(uow *eventlog.UnitOfWork) error {
		pay, err := s.payments.FindOrCreate(uow, &payment.CreateInput{
			OrgID:         in.OrgID,
			SourceType:    in.SourceType,
			SourceID:      in.SourceID,
			ProviderID:    types.PaymentProviderInternal,
			Currency:      in.Currency,
			SubtotalCents: subtotal,
			DiscountCents: in.DiscountCents,
		})
		if err != nil {
			return err
		}
		result.PaymentID = pay.ID

		gross := int64(0)
		res, err := s.payments.ApplyTransition(uow, &payment.TransitionInput{
			Payment:        pay,
			To:             types.PaymentStatusSucceeded,
			IdempotencyKey: in.PurchaseID,
			CausationID:    in.PurchaseID,
			PurchaseID:     in.PurchaseID,
			Scenario:       in.Scenario,
			Currency:       in.Currency,
			GrossCents:     &gross,
			LineItems:      in.LineItems,
		})
		if err != nil {
			return err
		}
		result.Deduped = res.Deduped
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Deduped {
		s.log.Infow("free checkout already completed", "purchaseId", in.PurchaseID)
	} else {
		s.log.Infow("free checkout completed", "purchaseId", in.PurchaseID, "paymentId", result.PaymentID)
	}
	return result, nil
}
