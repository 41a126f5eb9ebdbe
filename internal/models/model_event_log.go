package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventLogEntry is an immutable domain fact. The unique index on
// idempotency_key is the pipeline's sole concurrency-control primitive:
// concurrent or repeated append attempts for the same key collapse into
// "first writer wins, rest are no-ops". Entries are never updated and
// never deleted (audit trail).
type EventLogEntry struct {
	ID             string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	OrgID          string `gorm:"column:org_id;type:varchar(64);not null;index" json:"org_id"`
	EventType      string `gorm:"column:event_type;type:varchar(64);not null;index" json:"event_type"`
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex" json:"idempotency_key"`
	SourceType     string `gorm:"column:source_type;type:varchar(32)" json:"source_type"`
	SourceID       string `gorm:"column:source_id;type:varchar(64)" json:"source_id"`
	// CorrelationID ties related events together; for payment events it is
	// the payment id.
	CorrelationID string `gorm:"column:correlation_id;type:varchar(64);index" json:"correlation_id"`
	// CausationID is the event or request that caused this one.
	CausationID string         `gorm:"column:causation_id;type:varchar(128)" json:"causation_id"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (EventLogEntry) TableName() string { return "event_log" }
