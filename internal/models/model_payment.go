package models

import (
	"time"

	"github.com/eventora/treasury/pkg/types"
)

// Payment is one money movement tied to a purchase. It is created when a
// checkout is initiated, mutated only through the state machine, and
// never physically deleted (financial record).
type Payment struct {
	ID         string                `gorm:"column:id;primary_key;type:uuid" json:"id"`
	OrgID      string                `gorm:"column:org_id;type:varchar(64);not null;index" json:"org_id"`
	SourceType types.SourceType      `gorm:"column:source_type;type:varchar(32);not null;index:idx_payment_source,priority:1" json:"source_type"`
	SourceID   string                `gorm:"column:source_id;type:varchar(64);not null;index:idx_payment_source,priority:2" json:"source_id"`
	ProviderID types.PaymentProvider `gorm:"column:provider_id;type:varchar(32);not null" json:"provider_id"`
	// ProviderIntentID is the most recent provider intent anchored to this
	// payment. Multiple intents may anchor to one payment over time
	// (retried checkouts), tracked in payment_event.
	ProviderIntentID *string             `gorm:"column:provider_intent_id;type:varchar(128);index" json:"provider_intent_id"`
	Status           types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Currency         string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`

	// Pricing snapshot taken at creation time.
	SubtotalCents    int64 `gorm:"column:subtotal_cents;type:bigint;not null" json:"subtotal_cents"`
	DiscountCents    int64 `gorm:"column:discount_cents;type:bigint;not null" json:"discount_cents"`
	PlatformFeeCents int64 `gorm:"column:platform_fee_cents;type:bigint;not null" json:"platform_fee_cents"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }

func (p *Payment) GrossCents() int64 {
	if p == nil {
		return 0
	}
	return p.SubtotalCents - p.DiscountCents
}
