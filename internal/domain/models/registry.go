package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
	TableCleaning  TableStatus = "cleaning"
)

type Table struct {
	ID            string      `json:"id"`
	StoreID       string      `json:"store_id"`
	Label         string      `json:"label"`
	Capacity      int         `json:"capacity"`
	Status        TableStatus `json:"status"`
	OccupiedSince *time.Time  `json:"occupied_since,omitempty"`
	MergedWith    []string    `json:"merged_with,omitempty"`
	ActiveOrderID *string     `json:"active_order_id,omitempty"`
}

func (t Table) Clone() Table {
	c := t
	if t.OccupiedSince != nil {
		ts := *t.OccupiedSince
		c.OccupiedSince = &ts
	}
	if t.ActiveOrderID != nil {
		id := *t.ActiveOrderID
		c.ActiveOrderID = &id
	}
	c.MergedWith = append([]string(nil), t.MergedWith...)
	return c
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

type Delivery struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	StoreID           string          `json:"store_id"`
	Status            DeliveryStatus  `json:"status"`
	DriverID          string          `json:"driver_id,omitempty"`
	DriverName        string          `json:"driver_name,omitempty"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
	Address           string          `json:"address"`
	Fee               decimal.Decimal `json:"fee"`
	AssignedAt        *time.Time      `json:"assigned_at,omitempty"`
	PickedUpAt        *time.Time      `json:"picked_up_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (d Delivery) Clone() Delivery {
	c := d
	c.AssignedAt = cloneTime(d.AssignedAt)
	c.PickedUpAt = cloneTime(d.PickedUpAt)
	c.DeliveredAt = cloneTime(d.DeliveredAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Actor identifies the view or role that requested a change.
type Actor struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func (a Actor) String() string {
	if a.Name == "" {
		return a.Role
	}
	return a.Role + ":" + a.Name
}

// ParseActor reads the "role:name" form produced by String.
func ParseActor(s string) Actor {
	role, name, _ := strings.Cut(s, ":")
	return Actor{Role: role, Name: name}
}

const (
	EntityOrder     = "order"
	EntityTable     = "table"
	EntityDelivery  = "delivery"
	EntityOrderItem = "order_item"
	EntityInventory = "inventory"
)

// AuditRecord is one append-only row of the status trail.
type AuditRecord struct {
	OrderID    string    `json:"order_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}
