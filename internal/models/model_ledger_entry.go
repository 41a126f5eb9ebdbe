package models

import "time"

// LedgerEntry is an immutable accounting row derived from checkout line
// items. EntryKey is deterministic (operation dedupe key + line index)
// so a replayed ledger operation cannot double-post.
type LedgerEntry struct {
	ID           string  `gorm:"column:id;primary_key;type:uuid" json:"id"`
	OrgID        string  `gorm:"column:org_id;type:varchar(64);not null;index" json:"org_id"`
	PaymentID    string  `gorm:"column:payment_id;type:uuid;not null;index" json:"payment_id"`
	EntryKey     string  `gorm:"column:entry_key;type:varchar(160);not null;uniqueIndex" json:"entry_key"`
	Description  string  `gorm:"column:description;type:varchar(256);not null" json:"description"`
	TicketTypeID *string `gorm:"column:ticket_type_id;type:varchar(64)" json:"ticket_type_id"`
	Quantity     int     `gorm:"column:quantity;not null;default:0" json:"quantity"`

	UnitPriceCents int64     `gorm:"column:unit_price_cents;type:bigint;not null;default:0" json:"unit_price_cents"`
	AmountCents    int64     `gorm:"column:amount_cents;type:bigint;not null" json:"amount_cents"`
	Currency       string    `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entry" }
