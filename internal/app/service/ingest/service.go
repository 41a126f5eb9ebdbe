package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/app/service/payment"
	"github.com/eventora/treasury/internal/app/service/webhooklog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/logctx"
	"github.com/eventora/treasury/pkg/metrics"
	"github.com/eventora/treasury/pkg/tool"
	"github.com/eventora/treasury/pkg/types"
)

// Intent metadata keys stamped by the checkout flow. They carry the
// purchase attribution back to us on every webhook.
const (
	metaOrgID       = "org_id"
	metaSourceType  = "source_type"
	metaSourceID    = "source_id"
	metaPurchaseID  = "purchase_id"
	metaScenario    = "scenario"
	metaPlatformFee = "platform_fee_cents"
	metaLineItems   = "line_items"
)

// ErrMissingAttribution means a webhook referenced an intent we have no
// payment for and carried no metadata to create one. Returning it makes
// the HTTP layer answer 500 so the provider redelivers.
var ErrMissingAttribution = errors.New("provider event carries no purchase attribution")

// Service turns provider webhooks into event-log facts.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	payments *payment.Service
	events   *eventlog.Service
	producer *outbox.Producer
	audit    *webhooklog.Service
}

func New(db *gorm.DB, log *zap.SugaredLogger, payments *payment.Service, events *eventlog.Service, producer *outbox.Producer, audit *webhooklog.Service) *Service {
	return &Service{db: db, log: log, payments: payments, events: events, producer: producer, audit: audit}
}

// HandleWebhook ingests one raw provider notification. Unknown event
// types are acknowledged and dropped; handler errors propagate so the
// provider redelivers.
func (s *Service) HandleWebhook(ctx context.Context, providerID string, body []byte) error {
	log := logctx.FromCtx(ctx, s.log)

	row := &models.WebhookLog{
		ID:               tool.GenerateUUIDV7(),
		ProviderID:       providerID,
		TraceID:          logctx.TraceIDFromCtx(ctx),
		NotificationTime: time.Now(),
		Data:             datatypes.JSON(body),
		Status:           models.WebhookLogStatusReceived,
	}

	ev, err := DecodeProviderEvent(body)
	if ev != nil {
		row.ProviderEventID = ev.ID
		row.EventType = ev.Type
	}
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			log.Infow("discarding provider event of unhandled type", "eventId", ev.ID, "type", ev.Type)
			metrics.WebhookEvents.WithLabelValues(ev.Type, "discarded").Inc()
			row.Status = models.WebhookLogStatusDiscarded
			s.audit.Save(ctx, row)
			return nil
		}
		row.Status = models.WebhookLogStatusDiscarded
		s.audit.Save(ctx, row)
		return err
	}

	if herr := s.handle(ctx, ev); herr != nil {
		log.Errorw("provider event handling failed", "eventId", ev.ID, "type", ev.Type, "error", herr)
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		row.Status = models.WebhookLogStatusHandleFailed
		result := datatypes.JSON(fmt.Sprintf("{%q:%q}", "error", herr.Error()))
		row.Result = &result
		s.audit.Save(ctx, row)
		return herr
	}

	metrics.WebhookEvents.WithLabelValues(ev.Type, "handled").Inc()
	row.Status = models.WebhookLogStatusHandled
	s.audit.Save(ctx, row)
	return nil
}

func (s *Service) handle(ctx context.Context, ev *ProviderEvent) error {
	switch p := ev.Payload.(type) {
	case IntentPayload:
		switch ev.Type {
		case ProviderEventIntentSucceeded:
			return s.handleIntentOutcome(ctx, ev, p, types.PaymentStatusSucceeded, "")
		case ProviderEventIntentFailed:
			reason := p.FailureMessage
			if reason == "" {
				reason = p.FailureCode
			}
			return s.handleIntentOutcome(ctx, ev, p, types.PaymentStatusFailed, reason)
		case ProviderEventIntentCanceled:
			return s.handleIntentOutcome(ctx, ev, p, types.PaymentStatusCancelled, p.CancellationNote)
		}
	case ChargePayload:
		switch ev.Type {
		case ProviderEventChargeUpdated:
			return s.handleFeesSettled(ctx, ev, p)
		case ProviderEventChargeRefunded:
			return s.recordProviderEvent(ctx, ev, p.IntentID, p.Metadata, &p.AmountRefunded, "")
		}
	case DisputePayload:
		return s.recordProviderEvent(ctx, ev, p.IntentID, nil, &p.AmountCents, p.Reason)
	}
	return fmt.Errorf("no ingestion path for provider event type %s", ev.Type)
}

// handleIntentOutcome applies a terminal intent result. The provider
// event id is the idempotency key, so redeliveries of the same event
// dedupe at the event log while a different event for the same intent
// still records its fact.
func (s *Service) handleIntentOutcome(ctx context.Context, ev *ProviderEvent, p IntentPayload, to types.PaymentStatus, reason string) error {
	attr, attrErr := attributionFromMetadata(p.Metadata)
	if attrErr != nil && !errors.Is(attrErr, ErrMissingAttribution) {
		return attrErr
	}

	return eventlog.Run(ctx, s.db, func(uow *eventlog.UnitOfWork) error {
		// A known intent resolves its payment without metadata, so an
		// outcome delivered without attribution still lands as long as
		// the intent has been seen before.
		pay, err := s.findPaymentByIntent(uow, p.IntentID)
		if err != nil {
			return err
		}
		if pay == nil {
			if attrErr != nil {
				return attrErr
			}
			pay, err = s.findOrCreateAnchor(uow, attr, p.IntentID, p.AmountCents, p.Currency)
			if err != nil {
				return err
			}
		}
		if attr == nil {
			attr = &attribution{}
		}

		if err := s.upsertPaymentEvent(uow, &models.PaymentEvent{
			ProviderIntentID: p.IntentID,
			PaymentID:        pay.ID,
			Status:           ev.Type,
			ProviderEventID:  ev.ID,
			AmountCents:      p.AmountCents,
		}, reason); err != nil {
			return err
		}

		in := &payment.TransitionInput{
			Payment:          pay,
			To:               to,
			IdempotencyKey:   ev.ID,
			CausationID:      ev.ID,
			ProviderIntentID: p.IntentID,
			PurchaseID:       attr.purchaseID,
			Scenario:         attr.scenario,
			Currency:         p.Currency,
			LineItems:        attr.lineItems,
			Reason:           reason,
		}
		if to == types.PaymentStatusSucceeded {
			gross := p.AmountCents
			in.GrossCents = &gross
			if attr.platformFeeCents != nil {
				in.PlatformFeeCents = attr.platformFeeCents
			} else {
				fee := pay.PlatformFeeCents
				in.PlatformFeeCents = &fee
			}
		}

		res, err := s.payments.ApplyTransition(uow, in)
		if err != nil {
			return err
		}
		if res.Deduped {
			logctx.FromCtx(ctx, s.log).Infow("duplicate provider event ignored", "eventId", ev.ID, "intentId", p.IntentID)
		}
		return nil
	})
}

// handleFeesSettled records final processor fees from a settled charge.
func (s *Service) handleFeesSettled(ctx context.Context, ev *ProviderEvent, p ChargePayload) error {
	if p.IntentID == "" {
		return fmt.Errorf("charge event %s has no payment intent", ev.ID)
	}

	return eventlog.Run(ctx, s.db, func(uow *eventlog.UnitOfWork) error {
		pay, err := s.findPaymentByIntent(uow, p.IntentID)
		if err != nil {
			return err
		}
		if pay == nil {
			attr, aerr := attributionFromMetadata(p.Metadata)
			if aerr != nil {
				return fmt.Errorf("charge for unknown intent %s: %w", p.IntentID, aerr)
			}
			pay, err = s.findOrCreateAnchor(uow, attr, p.IntentID, p.AmountCents, p.Currency)
			if err != nil {
				return err
			}
		}

		fee := p.ProcessorFeeCents
		if err := uow.Tx().Model(&models.PaymentEvent{}).
			Where("provider_intent_id = ?", p.IntentID).
			Updates(map[string]any{
				"processor_fee_cents": fee,
				"updated_at":          time.Now(),
			}).Error; err != nil {
			return fmt.Errorf("failed to record processor fee for intent %s: %w", p.IntentID, err)
		}

		_, err = s.payments.RecordFeesReconciled(uow, &payment.FeesInput{
			Payment:            pay,
			IdempotencyKey:     ev.ID,
			CausationID:        ev.ID,
			ProviderIntentID:   p.IntentID,
			GrossCents:         p.AmountCents,
			ProcessorFeeCents:  fee,
			NetToPlatformCents: p.NetCents,
			Currency:           p.Currency,
		})
		return err
	})
}

// recordProviderEvent appends a provider.event_received fact for
// refunds and disputes. These do not drive the payment state machine;
// they flow to the operation queue via the outbox.
func (s *Service) recordProviderEvent(ctx context.Context, ev *ProviderEvent, intentID string, metadata map[string]string, amount *int64, reason string) error {
	return eventlog.Run(ctx, s.db, func(uow *eventlog.UnitOfWork) error {
		pay, err := s.findPaymentByIntent(uow, intentID)
		if err != nil {
			return err
		}

		in := &eventlog.AppendInput{
			EventType:      eventlog.EventTypeProviderEventReceived,
			IdempotencyKey: ev.ID,
			CausationID:    ev.ID,
		}
		payload := &eventlog.ProviderEventPayload{
			ProviderID:       types.PaymentProviderStripe,
			ProviderEventID:  ev.ID,
			ProviderType:     ev.Type,
			ProviderIntentID: intentID,
			AmountCents:      amount,
			Reason:           reason,
		}
		if pay != nil {
			payload.PaymentID = pay.ID
			in.OrgID = pay.OrgID
			in.SourceType = string(pay.SourceType)
			in.SourceID = pay.SourceID
			in.CorrelationID = pay.ID
		}
		in.Payload = payload

		appended, err := s.events.Append(uow, in)
		if err != nil {
			return err
		}
		if appended.AlreadyExists {
			return nil
		}
		return s.producer.Record(uow, appended.Entry)
	})
}

type attribution struct {
	orgID            string
	sourceType       types.SourceType
	sourceID         string
	purchaseID       string
	scenario         types.CheckoutScenario
	platformFeeCents *int64
	lineItems        []eventlog.LineItem
}

func attributionFromMetadata(md map[string]string) (*attribution, error) {
	if md == nil || md[metaSourceType] == "" || md[metaSourceID] == "" {
		return nil, ErrMissingAttribution
	}
	attr := &attribution{
		orgID:      md[metaOrgID],
		sourceType: types.SourceType(md[metaSourceType]),
		sourceID:   md[metaSourceID],
		purchaseID: md[metaPurchaseID],
		scenario:   types.CheckoutScenario(md[metaScenario]),
	}
	if raw := md[metaPlatformFee]; raw != "" {
		fee, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad platform fee in intent metadata: %w", err)
		}
		attr.platformFeeCents = &fee
	}
	if raw := md[metaLineItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &attr.lineItems); err != nil {
			return nil, fmt.Errorf("bad line items in intent metadata: %w", err)
		}
	}
	return attr, nil
}

func (s *Service) findOrCreateAnchor(uow *eventlog.UnitOfWork, attr *attribution, intentID string, amountCents int64, currency string) (*models.Payment, error) {
	in := &payment.CreateInput{
		OrgID:            attr.orgID,
		SourceType:       attr.sourceType,
		SourceID:         attr.sourceID,
		ProviderID:       types.PaymentProviderStripe,
		ProviderIntentID: intentID,
		Currency:         currency,
		SubtotalCents:    amountCents,
	}
	if attr.platformFeeCents != nil {
		in.PlatformFeeCents = *attr.platformFeeCents
	}
	return s.payments.FindOrCreate(uow, in)
}

// findPaymentByIntent resolves an intent to its payment, first through
// the ingestion ledger, then through the payment row itself.
func (s *Service) findPaymentByIntent(uow *eventlog.UnitOfWork, intentID string) (*models.Payment, error) {
	if intentID == "" {
		return nil, nil
	}

	var pe models.PaymentEvent
	err := uow.Tx().Where("provider_intent_id = ?", intentID).First(&pe).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var pay models.Payment
	if err == nil && pe.PaymentID != "" {
		if ferr := uow.Tx().Where("id = ?", pe.PaymentID).First(&pay).Error; ferr == nil {
			return &pay, nil
		} else if ferr != gorm.ErrRecordNotFound {
			return nil, ferr
		}
	}

	err = uow.Tx().Where("provider_intent_id = ?", intentID).First(&pay).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pay, nil
}

// upsertPaymentEvent maintains the per-intent ingestion ledger row.
func (s *Service) upsertPaymentEvent(uow *eventlog.UnitOfWork, row *models.PaymentEvent, errMsg string) error {
	now := time.Now()
	row.ID = tool.GenerateUUIDV7()
	row.Attempts = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	if errMsg != "" {
		row.ErrorMessage = &errMsg
	}

	assignments := map[string]any{
		"payment_id":        row.PaymentID,
		"status":            row.Status,
		"provider_event_id": row.ProviderEventID,
		"amount_cents":      row.AmountCents,
		"attempts":          gorm.Expr("payment_event.attempts + 1"),
		"updated_at":        now,
	}
	if errMsg != "" {
		assignments["error_message"] = errMsg
	}

	res := uow.Tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_intent_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to upsert payment event for intent %s: %w", row.ProviderIntentID, res.Error)
	}
	return nil
}
