package models

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventOrderCreated  EventKind = "order_created"
	EventStatusChanged EventKind = "status_changed"
	EventItemStatus    EventKind = "item_status_changed"
	EventOrderLate     EventKind = "order_late"
	EventLateCleared   EventKind = "late_cleared"
	EventStockWarning  EventKind = "stock_warning"
)

// Event is one entry of the fan-out stream. Consumers treat NewStatus as a hint
// and re-read state when Version is older than what they hold.
type Event struct {
	ID             string          `json:"id"`
	Kind           EventKind       `json:"kind"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	OrderID        string          `json:"order_id,omitempty"`
	StoreID        string          `json:"store_id"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	NewStatus      string          `json:"new_status,omitempty"`
	Version        int             `json:"version,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Notification is the fire-and-forget message handed to the notification collaborator.
type Notification struct {
	StoreID   string          `json:"store_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
