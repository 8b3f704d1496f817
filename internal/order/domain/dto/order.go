package dto

import (
	"time"

	"restaurant-ops/internal/domain/models"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	StoreID       string           `json:"store_id"`
	Channel       models.Channel   `json:"channel"`
	TableID       string           `json:"table_id,omitempty"`
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	Discount      decimal.Decimal  `json:"discount"`
	Fees          decimal.Decimal  `json:"fees"`
	Items         []Item           `json:"items"`
	Delivery      *DeliveryRequest `json:"delivery,omitempty"`
	Actor         models.Actor     `json:"actor"`
}

type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
}

type DeliveryRequest struct {
	Address string          `json:"address"`
	Fee     decimal.Decimal `json:"fee"`
}

type TransitionRequest struct {
	TargetStatus models.OrderStatus `json:"target_status"`
	Actor        models.Actor       `json:"actor"`
}

type AssignDriverRequest struct {
	DriverID          string           `json:"driver_id"`
	DriverName        string           `json:"driver_name"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	Actor             models.Actor     `json:"actor"`
}

type PickupRequest struct {
	Actor models.Actor `json:"actor"`
}

type ItemStatusRequest struct {
	PrepStatus models.PrepStatus `json:"prep_status"`
	Actor      models.Actor      `json:"actor"`
}

type LateOrder struct {
	OrderID         string             `json:"order_id"`
	Code            string             `json:"code"`
	Status          models.OrderStatus `json:"status"`
	Channel         models.Channel     `json:"channel"`
	StatusEnteredAt time.Time          `json:"status_entered_at"`
	MinutesInStatus int                `json:"minutes_in_status"`
}

type LateOrdersResponse struct {
	StoreID   string      `json:"store_id"`
	OrderIDs  []string    `json:"order_ids"`
	Orders    []LateOrder `json:"orders"`
	CheckedAt time.Time   `json:"checked_at"`
}
