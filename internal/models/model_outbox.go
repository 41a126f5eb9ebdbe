package models

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusDone       OutboxStatus = "done"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxEntry is a pending unit of work derived 1:1 from an
// EventLogEntry in the same transaction. Dispatch is at-least-once;
// handlers must be idempotent. Completed entries are retained for
// observability.
type OutboxEntry struct {
	ID        string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	EventID   string `gorm:"column:event_id;type:uuid;not null;uniqueIndex" json:"event_id"`
	EventType string `gorm:"column:event_type;type:varchar(64);not null;index" json:"event_type"`
	// DedupeKey mirrors the event's idempotency key so a transaction retry
	// cannot create two outbox rows for the same fact.
	DedupeKey     string         `gorm:"column:dedupe_key;type:varchar(128);not null;uniqueIndex" json:"dedupe_key"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	CorrelationID string         `gorm:"column:correlation_id;type:varchar(64);index" json:"correlation_id"`
	CausationID   string         `gorm:"column:causation_id;type:varchar(128)" json:"causation_id"`
	Status        OutboxStatus   `gorm:"column:status;type:varchar(16);not null;index:idx_outbox_dispatch,priority:1" json:"status"`
	Attempts      int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LastError     *string        `gorm:"column:last_error;type:text" json:"last_error"`
	ClaimedAt     *time.Time     `gorm:"column:claimed_at" json:"claimed_at"`
	ProcessedAt   *time.Time     `gorm:"column:processed_at" json:"processed_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (OutboxEntry) TableName() string { return "outbox" }
