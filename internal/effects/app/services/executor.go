package services

import (
	"context"
	"errors"
	"fmt"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Executor runs one effect job at most effectively once per idempotency key.
type Executor struct {
	inventory   core.IInventory
	commissions core.ICommissions
	sessions    core.ISessions
	notifier    core.INotifier
	idem        core.IIdempotency
	bus         core.IEventBus

	mylog logger.Logger
}

func NewExecutor(
	inventory core.IInventory,
	commissions core.ICommissions,
	sessions core.ISessions,
	notifier core.INotifier,
	idem core.IIdempotency,
	bus core.IEventBus,
	mylog logger.Logger,
) *Executor {
	return &Executor{
		inventory:   inventory,
		commissions: commissions,
		sessions:    sessions,
		notifier:    notifier,
		idem:        idem,
		bus:         bus,
		mylog:       mylog,
	}
}

func (e *Executor) Execute(ctx context.Context, job models.EffectJob) error {
	mylog := e.mylog.Action("effect_executed").With("order_id", job.OrderID, "effect", job.Kind, "attempt", job.Attempt)
	key := job.IdempotencyKey()

	started, err := e.idem.Begin(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: claim %s: %v", lifecycle.ErrSideEffect, key, err)
	}
	if !started {
		mylog.Debug("Effect already applied, skipping")
		return nil
	}

	if err := e.run(ctx, job, mylog); err != nil {
		if abortErr := e.idem.Abort(ctx, key); abortErr != nil {
			mylog.Error("Failed to release idempotency claim", abortErr)
		}
		mylog.Action("effect_failed").Error("Effect failed", err)
		return fmt.Errorf("%w: %s: %v", lifecycle.ErrSideEffect, job.Kind, err)
	}

	if err := e.idem.Complete(ctx, key); err != nil {
		// the effect itself is idempotent in storage; a repeat is harmless
		mylog.Error("Failed to mark effect done", err)
	}
	mylog.Info("Effect applied")
	return nil
}

func (e *Executor) run(ctx context.Context, job models.EffectJob, mylog logger.Logger) error {
	switch job.Kind {
	case models.EffectDeductStock:
		return e.deductStock(ctx, job, mylog)
	case models.EffectRestoreStock:
		return e.restoreStock(ctx, job, mylog)
	case models.EffectOpenSession:
		return e.openSession(ctx, job)
	case models.EffectCloseSession:
		return e.closeSession(ctx, job, mylog)
	case models.EffectAccrueCommission:
		return e.accrueCommission(ctx, job, mylog)
	case models.EffectNotify:
		e.notify(ctx, job, mylog)
		return nil
	}
	return fmt.Errorf("%w: %s", core.ErrUnknownEffect, job.Kind)
}

func (e *Executor) deductStock(ctx context.Context, job models.EffectJob, mylog logger.Logger) error {
	// a cancel that already ran its restore wins over a late deduction;
	// the inventory enforces it atomically, this check only saves a round trip
	restoreKey := models.EffectJob{OrderID: job.OrderID, Kind: models.EffectRestoreStock}.IdempotencyKey()
	restored, err := e.idem.Done(ctx, restoreKey)
	if err != nil {
		return err
	}
	if restored {
		mylog.Info("Order already restored, skipping deduction")
		return nil
	}

	lines := make([]models.StockLine, 0, len(job.Commit.Order.Items))
	for _, it := range job.Commit.Order.Items {
		lines = append(lines, models.StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	deductions, err := e.inventory.DeductStock(ctx, job.StoreID, job.OrderID, lines)
	if errors.Is(err, core.ErrStockRestored) {
		mylog.Info("Order already restored, skipping deduction")
		return nil
	}
	if err != nil && !errors.Is(err, core.ErrInsufficientStock) {
		return err
	}
	for _, d := range deductions {
		if d.Applied >= d.Requested {
			continue
		}
		mylog.Action("stock_oversold").Warn("Stock ran out, order continues",
			"product_id", d.ProductID, "requested", d.Requested, "applied", d.Applied)
		ev := fanout.StockWarningEvent(job.StoreID, job.OrderID, d.ProductID, d.Requested, d.Applied, job.Commit.CommittedAt)
		if err := e.bus.Publish(ctx, ev); err != nil {
			mylog.Error("Failed to publish stock warning", err)
		}
		if err := e.notifier.Notify(ctx, job.StoreID, "inventory.stock_warning", d); err != nil {
			mylog.Error("Failed to notify stock warning", err)
		}
	}
	return nil
}

func (e *Executor) restoreStock(ctx context.Context, job models.EffectJob, mylog logger.Logger) error {
	restored, err := e.inventory.RestoreStock(ctx, job.OrderID)
	if err != nil {
		return err
	}
	mylog.Debug("Stock restored", "lines", len(restored))
	return nil
}

func (e *Executor) openSession(ctx context.Context, job models.EffectJob) error {
	c := job.Commit
	if c.Table == nil {
		return nil
	}
	started := c.CommittedAt
	if c.Table.OccupiedSince != nil {
		started = *c.Table.OccupiedSince
	}
	return e.sessions.OpenSession(ctx, models.TableSession{
		ID:            uuid.NewString(),
		TableID:       c.Table.ID,
		StoreID:       job.StoreID,
		OpenedByOrder: job.OrderID,
		StartedAt:     started,
		Amount:        decimal.Zero,
	})
}

func (e *Executor) closeSession(ctx context.Context, job models.EffectJob, mylog logger.Logger) error {
	c := job.Commit
	charge := models.SessionCharge{
		TableID:   *c.Order.TableID,
		StoreID:   job.StoreID,
		OrderID:   job.OrderID,
		Amount:    decimal.Zero,
		StartedAt: c.CommittedAt,
		At:        c.CommittedAt,
		Release:   c.TableReleased,
	}
	if c.SessionStartedAt != nil {
		charge.StartedAt = *c.SessionStartedAt
	}
	if c.Order.Status == models.StatusDelivered {
		charge.Amount = c.Order.Total
	}

	session, err := e.sessions.CloseSession(ctx, charge)
	if err != nil {
		return err
	}
	if session.EndedAt != nil {
		mylog.Info("Table session closed", "table_id", session.TableID, "duration", session.Duration().String(), "amount", session.Amount.String())
	}
	return nil
}

// Commission returns fee × percent / 100 rounded to cents.
func Commission(fee, percent decimal.Decimal) decimal.Decimal {
	return fee.Mul(percent).Div(hundred).Round(2)
}

func (e *Executor) accrueCommission(ctx context.Context, job models.EffectJob, mylog logger.Logger) error {
	d := job.Commit.Delivery
	if d == nil || d.DriverID == "" {
		return nil
	}
	// the percent was stamped at creation or assignment; zero is a real value
	percent := d.CommissionPercent

	earning := models.Earning{
		DriverID:          d.DriverID,
		OrderID:           job.OrderID,
		StoreID:           job.StoreID,
		Fee:               d.Fee,
		CommissionPercent: percent,
		Amount:            Commission(d.Fee, percent),
		Status:            "pending",
		CreatedAt:         job.Commit.CommittedAt,
	}
	created, err := e.commissions.AccrueCommission(ctx, earning)
	if err != nil {
		return err
	}
	if created {
		mylog.Info("Commission accrued", "driver_id", d.DriverID, "amount", earning.Amount.String())
	}
	return nil
}

// notify swallows failures.
func (e *Executor) notify(ctx context.Context, job models.EffectJob, mylog logger.Logger) {
	c := job.Commit
	payload := map[string]any{
		"order_id":        c.Order.ID,
		"code":            c.Order.Code,
		"channel":         c.Order.Channel,
		"previous_status": c.PreviousStatus,
		"new_status":      c.Order.Status,
		"actor":           c.Actor.String(),
		"changed_at":      c.CommittedAt,
	}
	if err := e.notifier.Notify(ctx, job.StoreID, "order."+string(c.Order.Status), payload); err != nil {
		mylog.Action("notify_failed").Warn("Notification dropped", "error", err.Error())
	}
}
