package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/app/service/payment"
	"github.com/eventora/treasury/internal/app/service/webhooklog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/db/dbtest"
	"github.com/eventora/treasury/pkg/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop().Sugar()
	events := eventlog.New(db, log)
	producer := outbox.NewProducer()
	payments := payment.New(log, events, producer)
	audit := webhooklog.New(db, log)
	return New(db, log, payments, events, producer, audit), db
}

func intentEvent(eventID, eventType, intentID string) []byte {
	return []byte(`{
		"id": "` + eventID + `",
		"type": "` + eventType + `",
		"data": {"object": {
			"id": "` + intentID + `",
			"amount": 5000,
			"currency": "eur",
			"metadata": {
				"org_id": "org-1",
				"source_type": "ticket_order",
				"source_id": "order-1",
				"purchase_id": "purchase-1",
				"platform_fee_cents": "250"
			}
		}}
	}`)
}

func TestHandleWebhook_IntentSucceededCreatesPipelineRows(t *testing.T) {
	svc, db := newTestService(t)

	err := svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_1", ProviderEventIntentSucceeded, "pi_123"))
	require.NoError(t, err)

	var pay models.Payment
	require.NoError(t, db.First(&pay, "source_id = ?", "order-1").Error)
	require.Equal(t, types.PaymentStatusSucceeded, pay.Status)
	require.Equal(t, types.PaymentProviderStripe, pay.ProviderID)
	require.NotNil(t, pay.ProviderIntentID)
	require.Equal(t, "pi_123", *pay.ProviderIntentID)

	var pe models.PaymentEvent
	require.NoError(t, db.First(&pe, "provider_intent_id = ?", "pi_123").Error)
	require.Equal(t, pay.ID, pe.PaymentID)
	require.Equal(t, 1, pe.Attempts)

	var events, entries int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.NoError(t, db.Model(&models.OutboxEntry{}).Count(&entries).Error)
	require.EqualValues(t, 1, events)
	require.EqualValues(t, 1, entries)

	require.Eventually(t, func() bool {
		var logs int64
		if err := db.Model(&models.WebhookLog{}).
			Where("status = ?", models.WebhookLogStatusHandled).
			Count(&logs).Error; err != nil {
			return false
		}
		return logs == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandleWebhook_RedeliveryIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	body := intentEvent("evt_1", ProviderEventIntentSucceeded, "pi_123")

	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", body))
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", body))

	var payments, events, entries int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.NoError(t, db.Model(&models.OutboxEntry{}).Count(&entries).Error)
	require.EqualValues(t, 1, payments)
	require.EqualValues(t, 1, events)
	require.EqualValues(t, 1, entries)

	// The ingestion ledger still counts both deliveries.
	var pe models.PaymentEvent
	require.NoError(t, db.First(&pe, "provider_intent_id = ?", "pi_123").Error)
	require.Equal(t, 2, pe.Attempts)
}

func TestHandleWebhook_LateCancelDoesNotRegressPayment(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_ok", ProviderEventIntentSucceeded, "pi_999")))
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_cancel", ProviderEventIntentCanceled, "pi_999")))

	var pay models.Payment
	require.NoError(t, db.First(&pay, "source_id = ?", "order-1").Error)
	require.Equal(t, types.PaymentStatusSucceeded, pay.Status)

	// The cancel fact was still recorded for audit.
	var events int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.EqualValues(t, 2, events)
}

func TestHandleWebhook_UnknownTypeIsAcknowledged(t *testing.T) {
	svc, db := newTestService(t)

	err := svc.HandleWebhook(context.Background(), "stripe", []byte(`{"id": "evt_x", "type": "customer.created", "data": {"object": {}}}`))
	require.NoError(t, err)

	var events int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.Zero(t, events)
}

func TestHandleWebhook_ChargeUpdatedReconcilesFees(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_1", ProviderEventIntentSucceeded, "pi_123")))

	body := []byte(`{
		"id": "evt_fees",
		"type": "charge.updated",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_123", "amount": 5000, "fee": 170, "net": 4830, "currency": "eur"}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", body))

	var pe models.PaymentEvent
	require.NoError(t, db.First(&pe, "provider_intent_id = ?", "pi_123").Error)
	require.NotNil(t, pe.ProcessorFeeCents)
	require.EqualValues(t, 170, *pe.ProcessorFeeCents)

	var entry models.EventLogEntry
	require.NoError(t, db.First(&entry, "idempotency_key = ?", "evt_fees").Error)
	require.Equal(t, eventlog.EventTypePaymentFeesReconciled, entry.EventType)
}

func TestHandleWebhook_RefundRecordsProviderEvent(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_1", ProviderEventIntentSucceeded, "pi_123")))

	body := []byte(`{
		"id": "evt_refund",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_123", "amount": 5000, "amount_refunded": 5000, "currency": "eur"}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", body))

	var entry models.EventLogEntry
	require.NoError(t, db.First(&entry, "idempotency_key = ?", "evt_refund").Error)
	require.Equal(t, eventlog.EventTypeProviderEventReceived, entry.EventType)
	require.NotEmpty(t, entry.CorrelationID)
}

func TestHandleWebhook_MissingAttributionFails(t *testing.T) {
	svc, _ := newTestService(t)

	body := []byte(`{
		"id": "evt_bare",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_bare", "amount": 100, "currency": "eur", "metadata": {}}}
	}`)
	err := svc.HandleWebhook(context.Background(), "stripe", body)
	require.ErrorIs(t, err, ErrMissingAttribution)
}

func TestHandleWebhook_KnownIntentOutcomeWithoutMetadata(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", intentEvent("evt_1", ProviderEventIntentSucceeded, "pi_123")))

	// The provider sends the terminal outcome without metadata; the
	// intent is known, so no attribution is needed.
	body := []byte(`{
		"id": "evt_cancel",
		"type": "payment_intent.canceled",
		"data": {"object": {"id": "pi_123", "amount": 5000, "currency": "eur", "metadata": {}}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), "stripe", body))

	// The fact is recorded while the settled payment stands.
	var events int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.EqualValues(t, 2, events)

	var pay models.Payment
	require.NoError(t, db.First(&pay, "source_id = ?", "order-1").Error)
	require.Equal(t, types.PaymentStatusSucceeded, pay.Status)
}
