package payment

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/tool"
	"github.com/eventora/treasury/pkg/types"
)

// Service owns payment rows and the single path by which their status
// changes. Every transition, valid or not, leaves an event behind; the
// payment row only moves along the allowed edges.
type Service struct {
	log      *zap.SugaredLogger
	events   *eventlog.Service
	producer *outbox.Producer
}

func New(log *zap.SugaredLogger, events *eventlog.Service, producer *outbox.Producer) *Service {
	return &Service{log: log, events: events, producer: producer}
}

type CreateInput struct {
	OrgID            string
	SourceType       types.SourceType
	SourceID         string
	ProviderID       types.PaymentProvider
	ProviderIntentID string
	Currency         string
	SubtotalCents    int64
	DiscountCents    int64
	PlatformFeeCents int64
}

// FindOrCreate returns the payment anchored to a purchase source,
// creating it in status created when absent. Webhooks can arrive
// before the checkout flow persisted anything, so ingestion relies on
// this to always have an anchor row.
func (s *Service) FindOrCreate(uow *eventlog.UnitOfWork, in *CreateInput) (*models.Payment, error) {
	var existing models.Payment
	err := uow.Tx().
		Where("source_type = ? AND source_id = ?", in.SourceType, in.SourceID).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to look up payment for %s/%s: %w", in.SourceType, in.SourceID, err)
	}

	now := time.Now()
	p := &models.Payment{
		ID:               tool.GenerateUUIDV7(),
		OrgID:            in.OrgID,
		SourceType:       in.SourceType,
		SourceID:         in.SourceID,
		ProviderID:       in.ProviderID,
		Status:           types.PaymentStatusCreated,
		Currency:         in.Currency,
		SubtotalCents:    in.SubtotalCents,
		DiscountCents:    in.DiscountCents,
		PlatformFeeCents: in.PlatformFeeCents,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.ProviderIntentID != "" {
		p.ProviderIntentID = &in.ProviderIntentID
	}
	if err := uow.Tx().Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return p, nil
}

// GetBySource returns the payment for a purchase source, or nil.
func (s *Service) GetBySource(uow *eventlog.UnitOfWork, sourceType types.SourceType, sourceID string) (*models.Payment, error) {
	var p models.Payment
	err := uow.Tx().
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type TransitionInput struct {
	Payment          *models.Payment
	To               types.PaymentStatus
	IdempotencyKey   string
	CausationID      string
	ProviderIntentID string
	PurchaseID       string
	Scenario         types.CheckoutScenario
	Currency         string
	GrossCents       *int64
	PlatformFeeCents *int64
	LineItems        []eventlog.LineItem
	Reason           string
}

type TransitionResult struct {
	// Applied means the payment row actually moved to the target
	// status. A false value with Deduped false means the fact was
	// recorded but the row stayed put, e.g. a cancel arriving after
	// success.
	Applied bool
	Deduped bool
	EventID string
}

// ApplyTransition records a payment.status_changed fact and, when the
// current status allows it, advances the payment row. The event and
// its outbox entry commit with the caller's unit of work.
func (s *Service) ApplyTransition(uow *eventlog.UnitOfWork, in *TransitionInput) (*TransitionResult, error) {
	if in == nil || in.Payment == nil {
		return nil, fmt.Errorf("transition requires a payment")
	}
	p := in.Payment

	currency := in.Currency
	if currency == "" {
		currency = p.Currency
	}

	payload := &eventlog.StatusChangedPayload{
		PaymentID:        p.ID,
		OrgID:            p.OrgID,
		Status:           in.To,
		ProviderID:       p.ProviderID,
		ProviderIntentID: in.ProviderIntentID,
		PurchaseID:       in.PurchaseID,
		SourceType:       p.SourceType,
		SourceID:         p.SourceID,
		Scenario:         in.Scenario,
		Currency:         currency,
		GrossCents:       in.GrossCents,
		PlatformFeeCents: in.PlatformFeeCents,
		LineItems:        in.LineItems,
		Reason:           in.Reason,
	}
	if payload.ProviderIntentID == "" && p.ProviderIntentID != nil {
		payload.ProviderIntentID = *p.ProviderIntentID
	}

	appended, err := s.events.Append(uow, &eventlog.AppendInput{
		OrgID:          p.OrgID,
		EventType:      eventlog.EventTypePaymentStatusChanged,
		IdempotencyKey: in.IdempotencyKey,
		SourceType:     string(p.SourceType),
		SourceID:       p.SourceID,
		CorrelationID:  p.ID,
		CausationID:    in.CausationID,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}
	if appended.AlreadyExists {
		return &TransitionResult{Deduped: true}, nil
	}
	if err := s.producer.Record(uow, appended.Entry); err != nil {
		return nil, err
	}

	result := &TransitionResult{EventID: appended.Entry.ID}
	if !p.Status.CanTransitionTo(in.To) {
		s.log.Infow("payment transition recorded but not applied",
			"paymentId", p.ID, "from", p.Status, "to", in.To)
		return result, nil
	}

	updates := map[string]any{
		"status":     in.To,
		"updated_at": time.Now(),
	}
	if in.ProviderIntentID != "" {
		updates["provider_intent_id"] = in.ProviderIntentID
	}
	res := uow.Tx().Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update payment %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		result.Applied = true
		p.Status = in.To
		if in.ProviderIntentID != "" {
			p.ProviderIntentID = &in.ProviderIntentID
		}
	}
	return result, nil
}

type FeesInput struct {
	Payment            *models.Payment
	IdempotencyKey     string
	CausationID        string
	ProviderIntentID   string
	GrossCents         int64
	ProcessorFeeCents  int64
	NetToPlatformCents int64
	Currency           string
}

// RecordFeesReconciled appends a payment.fees_reconciled fact. Fee
// figures live on the snapshot, so the payment row is untouched.
func (s *Service) RecordFeesReconciled(uow *eventlog.UnitOfWork, in *FeesInput) (bool, error) {
	if in == nil || in.Payment == nil {
		return false, fmt.Errorf("fee reconciliation requires a payment")
	}
	p := in.Payment

	appended, err := s.events.Append(uow, &eventlog.AppendInput{
		OrgID:          p.OrgID,
		EventType:      eventlog.EventTypePaymentFeesReconciled,
		IdempotencyKey: in.IdempotencyKey,
		SourceType:     string(p.SourceType),
		SourceID:       p.SourceID,
		CorrelationID:  p.ID,
		CausationID:    in.CausationID,
		Payload: &eventlog.FeesReconciledPayload{
			PaymentID:          p.ID,
			ProviderIntentID:   in.ProviderIntentID,
			GrossCents:         in.GrossCents,
			ProcessorFeeCents:  in.ProcessorFeeCents,
			NetToPlatformCents: in.NetToPlatformCents,
			Currency:           in.Currency,
		},
	})
	if err != nil {
		return false, err
	}
	if appended.AlreadyExists {
		return false, nil
	}
	if err := s.producer.Record(uow, appended.Entry); err != nil {
		return false, err
	}
	return true, nil
}
