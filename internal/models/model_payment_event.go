package models

import "time"

// PaymentEvent is the ingestion ledger: one row per provider-level
// payment intent, used for webhook deduplication and coarse status
// tracking independent of the event log. A retried provider event for
// the same intent updates the row in place.
type PaymentEvent struct {
	ID               string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	ProviderIntentID string `gorm:"column:provider_intent_id;type:varchar(128);not null;uniqueIndex" json:"provider_intent_id"`
	// PaymentID is the purchase/payment anchor this intent settles.
	PaymentID string `gorm:"column:payment_id;type:uuid;index" json:"payment_id"`
	// Status is a free-text ingestion status, distinct from
	// Payment.Status.
	Status string `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// ProviderEventID is the id of the last provider event applied to
	// this row.
	ProviderEventID   string    `gorm:"column:provider_event_id;type:varchar(128);index" json:"provider_event_id"`
	AmountCents       int64     `gorm:"column:amount_cents;type:bigint;not null;default:0" json:"amount_cents"`
	PlatformFeeCents  *int64    `gorm:"column:platform_fee_cents;type:bigint" json:"platform_fee_cents"`
	ProcessorFeeCents *int64    `gorm:"column:processor_fee_cents;type:bigint" json:"processor_fee_cents"`
	Attempts          int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ErrorMessage      *string   `gorm:"column:error_message;type:text" json:"error_message"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (PaymentEvent) TableName() string { return "payment_event" }
