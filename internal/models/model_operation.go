package models

import (
	"time"

	"gorm.io/datatypes"
)

type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "pending"
	OperationStatusProcessing OperationStatus = "processing"
	OperationStatusDone       OperationStatus = "done"
	OperationStatusFailed     OperationStatus = "failed"
)

// Operation is a downstream effect request. The unique index on
// dedupe_key guarantees at-most-one logical execution per key no matter
// how many times enqueue is called.
type Operation struct {
	ID            string          `gorm:"column:id;primary_key;type:uuid" json:"id"`
	Type          string          `gorm:"column:type;type:varchar(64);not null;index" json:"type"`
	DedupeKey     string          `gorm:"column:dedupe_key;type:varchar(128);not null;uniqueIndex" json:"dedupe_key"`
	Payload       datatypes.JSON  `gorm:"column:payload;type:jsonb" json:"payload"`
	Correlations  datatypes.JSON  `gorm:"column:correlations;type:jsonb" json:"correlations"`
	Status        OperationStatus `gorm:"column:status;type:varchar(16);not null;index:idx_operation_dispatch,priority:1" json:"status"`
	Attempts      int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt time.Time       `gorm:"column:next_attempt_at;index:idx_operation_dispatch,priority:2" json:"next_attempt_at"`
	LastError     *string         `gorm:"column:last_error;type:text" json:"last_error"`
	ClaimedAt     *time.Time      `gorm:"column:claimed_at" json:"claimed_at"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at" json:"processed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Operation) TableName() string { return "operation" }
