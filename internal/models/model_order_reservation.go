package models

import (
	"time"

	"github.com/eventora/treasury/pkg/types"
)

type OrderReservationStatus string

const (
	OrderReservationStatusPending   OrderReservationStatus = "pending"
	OrderReservationStatusCompleted OrderReservationStatus = "completed"
	OrderReservationStatusReleased  OrderReservationStatus = "released"
)

// OrderReservation is the cart lock held while an order-like source
// awaits payment. Release is conditional on (status, intent) so a late
// or duplicate cancellation cannot release a lock that has moved on.
type OrderReservation struct {
	ID               string                 `gorm:"column:id;primary_key;type:uuid" json:"id"`
	SourceType       types.SourceType       `gorm:"column:source_type;type:varchar(32);not null;uniqueIndex:idx_reservation_source,priority:1" json:"source_type"`
	SourceID         string                 `gorm:"column:source_id;type:varchar(64);not null;uniqueIndex:idx_reservation_source,priority:2" json:"source_id"`
	ProviderIntentID string                 `gorm:"column:provider_intent_id;type:varchar(128);index" json:"provider_intent_id"`
	Status           OrderReservationStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func (OrderReservation) TableName() string { return "order_reservation" }
