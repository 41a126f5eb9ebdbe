package models

import (
	"time"

	"github.com/eventora/treasury/pkg/types"
)

// Registration is a fulfillment effect: a granted ticket line. The
// unique index on (payment_id, ticket_type_id) makes "grant ticket"
// replay-safe.
type Registration struct {
	ID             string           `gorm:"column:id;primary_key;type:uuid" json:"id"`
	OrgID          string           `gorm:"column:org_id;type:varchar(64);not null;index" json:"org_id"`
	PaymentID      string           `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:idx_registration_grant,priority:1" json:"payment_id"`
	SourceType     types.SourceType `gorm:"column:source_type;type:varchar(32);not null" json:"source_type"`
	SourceID       string           `gorm:"column:source_id;type:varchar(64);not null;index" json:"source_id"`
	TicketTypeID   string           `gorm:"column:ticket_type_id;type:varchar(64);not null;uniqueIndex:idx_registration_grant,priority:2" json:"ticket_type_id"`
	Quantity       int              `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents int64            `gorm:"column:unit_price_cents;type:bigint;not null" json:"unit_price_cents"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (Registration) TableName() string { return "registration" }
