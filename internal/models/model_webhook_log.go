package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookLogStatus string

const (
	WebhookLogStatusReceived     WebhookLogStatus = "received"
	WebhookLogStatusHandled      WebhookLogStatus = "handled"
	WebhookLogStatusDiscarded    WebhookLogStatus = "discarded"
	WebhookLogStatusHandleFailed WebhookLogStatus = "handle_failed"
)

// WebhookLog is the ingestion audit trail, written around every inbound
// provider call independently of the event log.
type WebhookLog struct {
	ID               string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderID       string           `gorm:"column:provider_id;type:varchar(32);not null" json:"provider_id"`
	TraceID          string           `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	ProviderEventID  string           `gorm:"column:provider_event_id;type:varchar(128);index" json:"provider_event_id"`
	EventType        string           `gorm:"column:event_type;type:varchar(64)" json:"event_type"`
	NotificationTime time.Time        `gorm:"column:notification_time" json:"notification_time"`
	Data             datatypes.JSON   `gorm:"column:data;type:jsonb" json:"data"`
	Result           *datatypes.JSON  `gorm:"column:result;type:jsonb" json:"result"`
	Status           WebhookLogStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (WebhookLog) TableName() string { return "webhook_log" }
