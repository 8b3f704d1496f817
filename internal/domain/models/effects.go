package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EffectKind string

const (
	EffectDeductStock      EffectKind = "deduct_stock"
	EffectRestoreStock     EffectKind = "restore_stock"
	EffectOpenSession      EffectKind = "open_session"
	EffectCloseSession     EffectKind = "close_session"
	EffectAccrueCommission EffectKind = "accrue_commission"
	EffectNotify           EffectKind = "notify"
)

// EffectJob is one unit of side-effect work derived from a Commit.
type EffectJob struct {
	ID        string     `json:"id"`
	Kind      EffectKind `json:"kind"`
	OrderID   string     `json:"order_id"`
	StoreID   string     `json:"store_id"`
	Attempt   int        `json:"attempt"`
	Commit    Commit     `json:"commit"`
	CreatedAt time.Time  `json:"created_at"`
}

// IdempotencyKey is the (order, effect kind) pair guarding re-execution.
// Notifications fire once per status, so the status is part of their key.
func (j EffectJob) IdempotencyKey() string {
	if j.Kind == EffectNotify {
		return j.OrderID + ":" + string(j.Kind) + ":" + string(j.Commit.Order.Status)
	}
	return j.OrderID + ":" + string(j.Kind)
}

// StockLine is one product quantity to take from or give back to inventory.
type StockLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SessionCharge closes or charges the open occupancy session of a table.
type SessionCharge struct {
	TableID   string          `json:"table_id"`
	StoreID   string          `json:"store_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	StartedAt time.Time       `json:"started_at"`
	At        time.Time       `json:"at"`
	Release   bool            `json:"release"`
}

type StockDeduction struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Requested int    `json:"requested"`
	Applied   int    `json:"applied"`
}

type Earning struct {
	DriverID          string          `json:"driver_id"`
	OrderID           string          `json:"order_id"`
	StoreID           string          `json:"store_id"`
	Fee               decimal.Decimal `json:"fee"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

type TableSession struct {
	ID            string          `json:"id"`
	TableID       string          `json:"table_id"`
	StoreID       string          `json:"store_id"`
	OpenedByOrder string          `json:"opened_by_order"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ChargedOrders []string        `json:"charged_orders"`
}

func (s TableSession) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
