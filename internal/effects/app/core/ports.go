package core

import (
	"context"

	"restaurant-ops/internal/domain/models"
)

// IInventory is the catalog/inventory collaborator. Deductions are recorded per
// (order, product) so a later restore gives back exactly what was taken.
type IInventory interface {
	// DeductStock takes stock with a floor at zero. A shortfall is applied as far
	// as possible and reported with ErrInsufficientStock; it is a warning.
	// Once the order was restored it takes nothing and returns ErrStockRestored.
	DeductStock(ctx context.Context, storeID, orderID string, lines []models.StockLine) ([]models.StockDeduction, error)
	// RestoreStock reverses every not yet reversed deduction of the order and
	// marks the order restored, atomically with the reversal.
	RestoreStock(ctx context.Context, orderID string) ([]models.StockDeduction, error)
}

// ICommissions is the driver/commission collaborator.
type ICommissions interface {
	// AccrueCommission appends a pending earning; false means the order already had one.
	AccrueCommission(ctx context.Context, earning models.Earning) (bool, error)
}

// ISessions keeps the append-only table occupancy sessions.
type ISessions interface {
	OpenSession(ctx context.Context, session models.TableSession) error
	CloseSession(ctx context.Context, charge models.SessionCharge) (models.TableSession, error)
}

// INotifier is fire-and-forget.
type INotifier interface {
	Notify(ctx context.Context, storeID, kind string, payload any) error
}

// IIdempotency guards (order, effect kind) keys.
type IIdempotency interface {
	// Begin claims key. It returns false when the effect already completed and
	// ErrInProgress when another worker holds the claim.
	Begin(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Abort(ctx context.Context, key string) error
	Done(ctx context.Context, key string) (bool, error)
}

type IQueue interface {
	Enqueue(ctx context.Context, job models.EffectJob) error
}

type IExecutor interface {
	Execute(ctx context.Context, job models.EffectJob) error
}

type IEventBus interface {
	Publish(ctx context.Context, ev models.Event) error
}
