package eventlog

import "github.com/eventora/treasury/pkg/types"

// LineItem is one purchasable position of a checkout, carried on
// status-changed events so fulfillment and ledger workers do not need
// to reach back into the checkout domain.
type LineItem struct {
	TicketTypeID   string `json:"ticketTypeId"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

// StatusChangedPayload is the payload of payment.status_changed events.
// Monetary fields are pointers because providers report them at
// different moments; nil means "not known yet", never zero.
type StatusChangedPayload struct {
	PaymentID        string                 `json:"paymentId"`
	OrgID            string                 `json:"orgId"`
	Status           types.PaymentStatus    `json:"status"`
	ProviderID       types.PaymentProvider  `json:"providerId"`
	ProviderIntentID string                 `json:"providerIntentId,omitempty"`
	PurchaseID       string                 `json:"purchaseId,omitempty"`
	SourceType       types.SourceType       `json:"sourceType"`
	SourceID         string                 `json:"sourceId"`
	Scenario         types.CheckoutScenario `json:"scenario,omitempty"`
	Currency         string                 `json:"currency,omitempty"`
	GrossCents       *int64                 `json:"grossCents,omitempty"`
	PlatformFeeCents *int64                 `json:"platformFeeCents,omitempty"`
	LineItems        []LineItem             `json:"lineItems,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
}

// FeesReconciledPayload is the payload of payment.fees_reconciled
// events, emitted when the provider reports final charge fees.
type FeesReconciledPayload struct {
	PaymentID          string `json:"paymentId"`
	ProviderIntentID   string `json:"providerIntentId"`
	GrossCents         int64  `json:"grossCents"`
	ProcessorFeeCents  int64  `json:"processorFeeCents"`
	NetToPlatformCents int64  `json:"netToPlatformCents"`
	Currency           string `json:"currency,omitempty"`
}

// ProviderEventPayload is the payload of provider.event_received
// events covering refunds and disputes.
type ProviderEventPayload struct {
	ProviderID       types.PaymentProvider `json:"providerId"`
	ProviderEventID  string                `json:"providerEventId"`
	ProviderType     string                `json:"providerType"`
	PaymentID        string                `json:"paymentId,omitempty"`
	ProviderIntentID string                `json:"providerIntentId,omitempty"`
	AmountCents      *int64                `json:"amountCents,omitempty"`
	Reason           string                `json:"reason,omitempty"`
}
