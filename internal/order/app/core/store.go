package core

import (
	"context"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
)

// IOrderStore is the Order Store together with the Table and Delivery registries.
// Every write checks the order version it was computed from and fails with
// lifecycle.ErrConflict when the row moved.
type IOrderStore interface {
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	LoadAggregate(ctx context.Context, orderID string) (models.Aggregate, error)

	CommitTransition(ctx context.Context, agg models.Aggregate, commit models.Commit) error
	SaveDeliveryChange(ctx context.Context, agg models.Aggregate, change lifecycle.DeliveryChange) error
	SaveItemStatus(ctx context.Context, agg models.Aggregate, item models.OrderItem, prev models.PrepStatus, actor models.Actor, at time.Time) error

	History(ctx context.Context, orderID string) ([]models.AuditRecord, error)
	ListActive(ctx context.Context, storeID string) ([]models.Order, error)

	GetTable(ctx context.Context, tableID string) (models.Table, error)
	ListTables(ctx context.Context, storeID string) ([]models.Table, error)
	UpsertTable(ctx context.Context, table models.Table) error

	Close() error
}

// ILocker hands out the per-order serialization unit.
type ILocker interface {
	// Acquire waits at most wait and fails with lifecycle.ErrBusy after that.
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// IDispatcher receives every commit after the order lock is released.
type IDispatcher interface {
	Dispatch(ctx context.Context, commit models.Commit) error
}

type IEventBus interface {
	Publish(ctx context.Context, ev models.Event) error
}
