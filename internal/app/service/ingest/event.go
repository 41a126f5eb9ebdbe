package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider event types the pipeline reacts to. Anything else is
// acknowledged and discarded.
const (
	ProviderEventIntentSucceeded = "payment_intent.succeeded"
	ProviderEventIntentFailed    = "payment_intent.payment_failed"
	ProviderEventIntentCanceled  = "payment_intent.canceled"
	ProviderEventChargeUpdated   = "charge.updated"
	ProviderEventChargeRefunded  = "charge.refunded"
	ProviderEventDisputeCreated  = "charge.dispute.created"
	ProviderEventDisputeClosed   = "charge.dispute.closed"
)

var ErrUnknownEventType = errors.New("unknown provider event type")

// ProviderEvent is one decoded webhook notification.
type ProviderEvent struct {
	ID      string
	Type    string
	Payload EventPayload
}

// EventPayload is the decoded per-type body of a provider event.
type EventPayload interface {
	providerEventPayload()
}

// IntentPayload covers the payment_intent.* family. Metadata carries
// the purchase attribution the checkout flow stamped on the intent.
type IntentPayload struct {
	IntentID         string            `json:"id"`
	AmountCents      int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	FailureCode      string            `json:"failure_code,omitempty"`
	FailureMessage   string            `json:"failure_message,omitempty"`
	CancellationNote string            `json:"cancellation_reason,omitempty"`
}

func (IntentPayload) providerEventPayload() {}

// ChargePayload covers charge.updated and charge.refunded. Fee fields
// are only trustworthy once the balance transaction settled, which is
// exactly when charge.updated fires.
type ChargePayload struct {
	ChargeID          string            `json:"id"`
	IntentID          string            `json:"payment_intent"`
	AmountCents       int64             `json:"amount"`
	AmountRefunded    int64             `json:"amount_refunded,omitempty"`
	ProcessorFeeCents int64             `json:"fee"`
	NetCents          int64             `json:"net"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

func (ChargePayload) providerEventPayload() {}

// DisputePayload covers charge.dispute.*.
type DisputePayload struct {
	DisputeID   string `json:"id"`
	IntentID    string `json:"payment_intent"`
	AmountCents int64  `json:"amount"`
	Reason      string `json:"reason"`
	DisputeStat string `json:"status"`
}

func (DisputePayload) providerEventPayload() {}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// DecodeProviderEvent parses a raw webhook body into a typed event.
// Unknown event types return ErrUnknownEventType with the envelope
// still populated, so callers can log what they are skipping.
func DecodeProviderEvent(raw []byte) (*ProviderEvent, error) {
	var env rawEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode provider event envelope: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("provider event missing id or type")
	}

	ev := &ProviderEvent{ID: env.ID, Type: env.Type}
	switch env.Type {
	case ProviderEventIntentSucceeded, ProviderEventIntentFailed, ProviderEventIntentCanceled:
		var p IntentPayload
		if err := json.Unmarshal(env.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode intent payload for %s: %w", env.ID, err)
		}
		ev.Payload = p
	case ProviderEventChargeUpdated, ProviderEventChargeRefunded:
		var p ChargePayload
		if err := json.Unmarshal(env.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode charge payload for %s: %w", env.ID, err)
		}
		ev.Payload = p
	case ProviderEventDisputeCreated, ProviderEventDisputeClosed:
		var p DisputePayload
		if err := json.Unmarshal(env.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("failed to decode dispute payload for %s: %w", env.ID, err)
		}
		ev.Payload = p
	default:
		return ev, ErrUnknownEventType
	}
	return ev, nil
}
