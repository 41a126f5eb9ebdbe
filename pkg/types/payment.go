package types

import "fmt"

type PaymentProvider string

const (
	PaymentProviderStripe   PaymentProvider = "stripe"
	PaymentProviderInternal PaymentProvider = "internal"
)

// SourceType identifies the business object a payment pays for.
type SourceType string

const (
	SourceTypeTicketOrder       SourceType = "ticket_order"
	SourceTypePadelRegistration SourceType = "padel_registration"
	SourceTypeStoreOrder        SourceType = "store_order"
)

func (s SourceType) OrderLike() bool {
	return s == SourceTypeTicketOrder || s == SourceTypeStoreOrder
}

type CheckoutScenario string

const (
	CheckoutScenarioStandard            CheckoutScenario = "standard"
	CheckoutScenarioGroupedRegistration CheckoutScenario = "grouped_registration"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// validTransitions is the payment state machine. Succeeded, failed and
// cancelled are absorbing: transition validity, not arrival order,
// governs the final state.
var validTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSucceeded:  {},
	PaymentStatusFailed:     {},
	PaymentStatusCancelled:  {},
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParsePaymentStatus rejects unrecognized status strings before any
// mutation happens (malformed events must never reach the database).
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentStatusCreated, PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled:
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status: %q", s)
}
