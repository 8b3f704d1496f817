package models

import "time"

// Aggregate is an order together with the registry rows a transition may touch.
type Aggregate struct {
	Order    Order
	Table    *Table
	Delivery *Delivery

	// OtherActiveOnTable lists non-terminal orders other than Order seated at Table.
	OtherActiveOnTable []string
}

// Commit is the result of applying one transition to an Aggregate.
type Commit struct {
	Order          Order       `json:"order"`
	PreviousStatus OrderStatus `json:"previous_status"`

	Table               *Table      `json:"table,omitempty"`
	PreviousTableStatus TableStatus `json:"previous_table_status,omitempty"`
	TableOccupied       bool        `json:"table_occupied,omitempty"`
	TableReleased       bool        `json:"table_released,omitempty"`
	// SessionStartedAt is the table's occupied_since before the transition.
	SessionStartedAt *time.Time `json:"session_started_at,omitempty"`

	Delivery               *Delivery      `json:"delivery,omitempty"`
	PreviousDeliveryStatus DeliveryStatus `json:"previous_delivery_status,omitempty"`

	Actor       Actor     `json:"actor"`
	CommittedAt time.Time `json:"committed_at"`
}

// Audit returns the audit rows the commit must persist, order row first.
func (c Commit) Audit() []AuditRecord {
	actor := c.Actor.String()
	records := []AuditRecord{{
		OrderID:    c.Order.ID,
		EntityType: EntityOrder,
		EntityID:   c.Order.ID,
		FromStatus: string(c.PreviousStatus),
		ToStatus:   string(c.Order.Status),
		Actor:      actor,
		CreatedAt:  c.CommittedAt,
	}}
	if c.Table != nil && c.Table.Status != c.PreviousTableStatus {
		records = append(records, AuditRecord{
			OrderID:    c.Order.ID,
			EntityType: EntityTable,
			EntityID:   c.Table.ID,
			FromStatus: string(c.PreviousTableStatus),
			ToStatus:   string(c.Table.Status),
			Actor:      actor,
			CreatedAt:  c.CommittedAt,
		})
	}
	if c.Delivery != nil && c.Delivery.Status != c.PreviousDeliveryStatus {
		records = append(records, AuditRecord{
			OrderID:    c.Order.ID,
			EntityType: EntityDelivery,
			EntityID:   c.Delivery.ID,
			FromStatus: string(c.PreviousDeliveryStatus),
			ToStatus:   string(c.Delivery.Status),
			Actor:      actor,
			CreatedAt:  c.CommittedAt,
		})
	}
	return records
}

// TransitionResult is what RequestTransition hands back to the caller.
type TransitionResult struct {
	OrderID     string      `json:"order_id"`
	NewStatus   OrderStatus `json:"new_status"`
	CommittedAt time.Time   `json:"committed_at"`
	Version     int         `json:"version"`
	Warning     string      `json:"warning,omitempty"`
}
