package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/fulfillment"
	"github.com/eventora/treasury/internal/app/service/ledger"
	"github.com/eventora/treasury/internal/app/service/operation"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/app/service/snapshot"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/notifier"
	"github.com/eventora/treasury/pkg/types"
)

// Pipeline binds the dispatch side together: outbox handlers that
// project snapshots and fan out operations, and the executors behind
// those operations.
type Pipeline struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	snaps   *snapshot.Service
	ops     *operation.Service
	fulfill *fulfillment.Service
	ledger  *ledger.Service
	notify  notifier.Notifier
}

func New(db *gorm.DB, log *zap.SugaredLogger, snaps *snapshot.Service, ops *operation.Service, fulfill *fulfillment.Service, ldg *ledger.Service, notify notifier.Notifier) *Pipeline {
	return &Pipeline{db: db, log: log, snaps: snaps, ops: ops, fulfill: fulfill, ledger: ldg, notify: notify}
}

// Register wires the pipeline into the dispatcher and worker. Called
// once at startup, before either loop begins polling.
func (p *Pipeline) Register(d *outbox.Dispatcher, w *operation.Worker) {
	d.Register(eventlog.EventTypePaymentStatusChanged, p.handleStatusChanged)
	d.Register(eventlog.EventTypePaymentFeesReconciled, p.handleFeesReconciled)
	d.Register(eventlog.EventTypeProviderEventReceived, p.handleProviderEvent)

	w.Register(operation.TypeFulfillPayment, p.execFulfillPayment)
	w.Register(operation.TypeLedgerUpsert, p.execLedgerUpsert)
	w.Register(operation.TypeNotifySale, p.execNotifySale)
	w.Register(operation.TypeProcessProviderEvent, p.execProcessProviderEvent)
}

// fulfillPayload is the payload shared by the fulfill, ledger and
// notify operations.
type fulfillPayload struct {
	OrgID      string              `json:"orgId"`
	PaymentID  string              `json:"paymentId"`
	SourceType types.SourceType    `json:"sourceType"`
	SourceID   string              `json:"sourceId"`
	Currency   string              `json:"currency"`
	GrossCents int64               `json:"grossCents"`
	LineItems  []eventlog.LineItem `json:"lineItems"`
}

type providerEventOpPayload struct {
	ProviderEventID  string `json:"providerEventId"`
	ProviderType     string `json:"providerType"`
	PaymentID        string `json:"paymentId,omitempty"`
	ProviderIntentID string `json:"providerIntentId,omitempty"`
	AmountCents      *int64 `json:"amountCents,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// handleStatusChanged projects the event into the snapshot and, on
// success, fans out the downstream effects as deduplicated operations.
func (p *Pipeline) handleStatusChanged(ctx context.Context, entry *models.OutboxEntry) error {
	var payload eventlog.StatusChangedPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode status-changed payload: %w", err)
	}

	// Malformed status strings are rejected before any mutation; the
	// entry retries and eventually parks for operator inspection.
	status, err := types.ParsePaymentStatus(string(payload.Status))
	if err != nil {
		return err
	}
	patch := &snapshot.Patch{Status: &status}
	if payload.Currency != "" {
		currency := payload.Currency
		patch.Currency = &currency
	}
	patch.GrossCents = payload.GrossCents
	patch.PlatformFeeCents = payload.PlatformFeeCents
	if _, err := p.snaps.Project(ctx, entry.EventID, payload.PaymentID, patch); err != nil {
		return err
	}

	switch payload.Status {
	case types.PaymentStatusSucceeded:
		return p.fanOutSuccess(ctx, &payload)
	case types.PaymentStatusFailed, types.PaymentStatusCancelled:
		if payload.SourceType.OrderLike() {
			_, err := p.fulfill.ReleaseReservation(ctx, payload.SourceType, payload.SourceID, payload.ProviderIntentID)
			return err
		}
	}
	return nil
}

// fanOutSuccess enqueues the effects of a successful payment. The
// shared dedupe base (provider intent when present, else the purchase
// id) makes replays of the same success converge on the same rows.
func (p *Pipeline) fanOutSuccess(ctx context.Context, payload *eventlog.StatusChangedPayload) error {
	dedupeBase := payload.ProviderIntentID
	if dedupeBase == "" {
		dedupeBase = payload.PurchaseID
	}
	if dedupeBase == "" {
		dedupeBase = payload.PaymentID
	}

	var gross int64
	if payload.GrossCents != nil {
		gross = *payload.GrossCents
	}
	op := &fulfillPayload{
		OrgID:      payload.OrgID,
		PaymentID:  payload.PaymentID,
		SourceType: payload.SourceType,
		SourceID:   payload.SourceID,
		Currency:   payload.Currency,
		GrossCents: gross,
		LineItems:  payload.LineItems,
	}
	correlations := map[string]string{"payment_id": payload.PaymentID}

	ledgerBase := payload.PurchaseID
	if ledgerBase == "" {
		ledgerBase = dedupeBase
	}

	return eventlog.Run(ctx, p.db, func(uow *eventlog.UnitOfWork) error {
		if _, err := p.ops.Enqueue(uow, &operation.EnqueueInput{
			Type:         operation.TypeFulfillPayment,
			DedupeKey:    fmt.Sprintf("%s:%s", operation.TypeFulfillPayment, dedupeBase),
			Payload:      op,
			Correlations: correlations,
		}); err != nil {
			return err
		}
		if _, err := p.ops.Enqueue(uow, &operation.EnqueueInput{
			Type:         operation.TypeLedgerUpsert,
			DedupeKey:    fmt.Sprintf("%s:%s", operation.TypeLedgerUpsert, ledgerBase),
			Payload:      op,
			Correlations: correlations,
		}); err != nil {
			return err
		}
		if _, err := p.ops.Enqueue(uow, &operation.EnqueueInput{
			Type:         operation.TypeNotifySale,
			DedupeKey:    fmt.Sprintf("%s:%s", operation.TypeNotifySale, dedupeBase),
			Payload:      op,
			Correlations: correlations,
		}); err != nil {
			return err
		}
		return nil
	})
}

// handleFeesReconciled folds final processor fees into the snapshot.
func (p *Pipeline) handleFeesReconciled(ctx context.Context, entry *models.OutboxEntry) error {
	var payload eventlog.FeesReconciledPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode fees-reconciled payload: %w", err)
	}

	patch := &snapshot.Patch{
		GrossCents:        &payload.GrossCents,
		ProcessorFeeCents: &payload.ProcessorFeeCents,
	}
	if payload.Currency != "" {
		currency := payload.Currency
		patch.Currency = &currency
	}

	// Net to the organization is gross minus both fee layers. The
	// snapshot may not have seen the success event yet, so the platform
	// fee is taken from the payment row, the source both events race to
	// project.
	var pay models.Payment
	if err := p.db.WithContext(ctx).Where("id = ?", payload.PaymentID).First(&pay).Error; err != nil {
		return fmt.Errorf("failed to load payment %s for fee reconciliation: %w", payload.PaymentID, err)
	}
	platformFee := pay.PlatformFeeCents
	patch.PlatformFeeCents = &platformFee
	net := payload.GrossCents - platformFee - payload.ProcessorFeeCents
	patch.NetToOrgCents = &net

	_, err := p.snaps.Project(ctx, entry.EventID, payload.PaymentID, patch)
	return err
}

// handleProviderEvent forwards refunds and disputes to the operation
// queue for asynchronous processing.
func (p *Pipeline) handleProviderEvent(ctx context.Context, entry *models.OutboxEntry) error {
	var payload eventlog.ProviderEventPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode provider-event payload: %w", err)
	}

	return eventlog.Run(ctx, p.db, func(uow *eventlog.UnitOfWork) error {
		_, err := p.ops.Enqueue(uow, &operation.EnqueueInput{
			Type:      operation.TypeProcessProviderEvent,
			DedupeKey: fmt.Sprintf("%s:%s", operation.TypeProcessProviderEvent, payload.ProviderEventID),
			Payload: &providerEventOpPayload{
				ProviderEventID:  payload.ProviderEventID,
				ProviderType:     payload.ProviderType,
				PaymentID:        payload.PaymentID,
				ProviderIntentID: payload.ProviderIntentID,
				AmountCents:      payload.AmountCents,
				Reason:           payload.Reason,
			},
			Correlations: map[string]string{"payment_id": payload.PaymentID},
		})
		return err
	})
}

func (p *Pipeline) execFulfillPayment(ctx context.Context, op *models.Operation) error {
	var payload fulfillPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode fulfill payload: %w", err)
	}

	if _, err := p.fulfill.GrantLineItems(ctx, &fulfillment.GrantInput{
		OrgID:      payload.OrgID,
		PaymentID:  payload.PaymentID,
		SourceType: payload.SourceType,
		SourceID:   payload.SourceID,
		LineItems:  payload.LineItems,
	}); err != nil {
		return err
	}
	if payload.SourceType.OrderLike() {
		return p.fulfill.CompleteReservation(ctx, payload.SourceType, payload.SourceID)
	}
	return nil
}

func (p *Pipeline) execLedgerUpsert(ctx context.Context, op *models.Operation) error {
	var payload fulfillPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode ledger payload: %w", err)
	}

	_, err := p.ledger.PostLineItems(ctx, &ledger.PostInput{
		OrgID:     payload.OrgID,
		PaymentID: payload.PaymentID,
		DedupeKey: op.DedupeKey,
		Currency:  payload.Currency,
		LineItems: payload.LineItems,
	})
	return err
}

// execNotifySale delivers the sale notification. Delivery failures are
// logged and swallowed so a flaky notification channel cannot park
// financial operations.
func (p *Pipeline) execNotifySale(ctx context.Context, op *models.Operation) error {
	var payload fulfillPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode notify payload: %w", err)
	}

	err := p.notify.NotifySale(ctx, &notifier.SaleNotification{
		OrgID:       payload.OrgID,
		PaymentID:   payload.PaymentID,
		SourceType:  string(payload.SourceType),
		SourceID:    payload.SourceID,
		Currency:    payload.Currency,
		AmountCents: payload.GrossCents,
	})
	if err != nil {
		p.log.Warnw("sale notification delivery failed", "paymentId", payload.PaymentID, "error", err)
	}
	return nil
}

// execProcessProviderEvent records refund and dispute outcomes against
// the ingestion ledger.
func (p *Pipeline) execProcessProviderEvent(ctx context.Context, op *models.Operation) error {
	var payload providerEventOpPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode provider-event operation payload: %w", err)
	}

	if payload.ProviderIntentID != "" {
		err := p.db.WithContext(ctx).Model(&models.PaymentEvent{}).
			Where("provider_intent_id = ?", payload.ProviderIntentID).
			Updates(map[string]any{
				"status":            payload.ProviderType,
				"provider_event_id": payload.ProviderEventID,
				"updated_at":        time.Now(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to record provider event %s: %w", payload.ProviderEventID, err)
		}
	}

	p.log.Infow("provider event processed",
		"providerEventId", payload.ProviderEventID,
		"type", payload.ProviderType,
		"paymentId", payload.PaymentID,
		"reason", payload.Reason)
	return nil
}
