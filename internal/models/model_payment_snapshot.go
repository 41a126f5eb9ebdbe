package models

import (
	"time"

	"github.com/eventora/treasury/pkg/types"
)

// PaymentSnapshot is the denormalized read model, one row per payment.
// Numeric fields are nullable: different event types contribute
// different fields over time and absent fields are left untouched.
// LastEventID makes re-application of the same event a no-op.
type PaymentSnapshot struct {
	PaymentID         string              `gorm:"column:payment_id;primary_key;type:uuid" json:"payment_id"`
	OrgID             string              `gorm:"column:org_id;type:varchar(64);not null;index" json:"org_id"`
	SourceType        types.SourceType    `gorm:"column:source_type;type:varchar(32);not null" json:"source_type"`
	SourceID          string              `gorm:"column:source_id;type:varchar(64);not null" json:"source_id"`
	Status            types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Currency          string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	GrossCents        *int64              `gorm:"column:gross_cents;type:bigint" json:"gross_cents"`
	PlatformFeeCents  *int64              `gorm:"column:platform_fee_cents;type:bigint" json:"platform_fee_cents"`
	ProcessorFeeCents *int64              `gorm:"column:processor_fee_cents;type:bigint" json:"processor_fee_cents"`
	NetToOrgCents     *int64              `gorm:"column:net_to_org_cents;type:bigint" json:"net_to_org_cents"`
	LastEventID       string              `gorm:"column:last_event_id;type:uuid;not null" json:"last_event_id"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func (PaymentSnapshot) TableName() string { return "payment_snapshot" }
