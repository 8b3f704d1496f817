package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

type Channel string

const (
	ChannelDineIn   Channel = "dine_in"
	ChannelDelivery Channel = "delivery"
	ChannelPickup   Channel = "pickup"
	ChannelCounter  Channel = "counter"
)

type PrepStatus string

const (
	PrepPending   PrepStatus = "pending"
	PrepPreparing PrepStatus = "preparing"
	PrepReady     PrepStatus = "ready"
)

type Order struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	StoreID         string          `json:"store_id"`
	Channel         Channel         `json:"channel"`
	Status          OrderStatus     `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Fees            decimal.Decimal `json:"fees"`
	Total           decimal.Decimal `json:"total"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	TableID         *string         `json:"table_id,omitempty"`
	Delivery        *Delivery       `json:"delivery,omitempty"`
	Items           []OrderItem     `json:"items"`
	Version         int             `json:"version"`
	StatusEnteredAt time.Time       `json:"status_entered_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Notes      string          `json:"notes,omitempty"`
	PrepStatus PrepStatus      `json:"prep_status"`
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (o Order) Clone() Order {
	c := o
	if o.TableID != nil {
		id := *o.TableID
		c.TableID = &id
	}
	if o.Delivery != nil {
		d := o.Delivery.Clone()
		c.Delivery = &d
	}
	c.Items = append([]OrderItem(nil), o.Items...)
	return c
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}
