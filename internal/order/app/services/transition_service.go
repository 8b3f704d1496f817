package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/xpkg/logger"
)

// TransitionService is the Status Transition Engine. Everything that touches an
// order runs under that order's lock; events are published before the lock is
// released so one order's events leave in commit order. Side effects are
// dispatched after release.
type TransitionService struct {
	store      core.IOrderStore
	locker     core.ILocker
	bus        core.IEventBus
	dispatcher core.IDispatcher
	lockWait   time.Duration
	now        func() time.Time
	mylog      logger.Logger
}

func NewTransitionService(
	store core.IOrderStore,
	locker core.ILocker,
	bus core.IEventBus,
	dispatcher core.IDispatcher,
	lockWait time.Duration,
	mylog logger.Logger,
) *TransitionService {
	return &TransitionService{
		store:      store,
		locker:     locker,
		bus:        bus,
		dispatcher: dispatcher,
		lockWait:   lockWait,
		now:        func() time.Time { return time.Now().UTC() },
		mylog:      mylog,
	}
}

// WithClock replaces the wall clock, for tests.
func (ts *TransitionService) WithClock(now func() time.Time) *TransitionService {
	ts.now = now
	return ts
}

func lockKey(orderID string) string {
	return "order:" + orderID
}

// withOrderLock runs fn under the order's lock. A version conflict inside fn
// means someone bypassed the lock (another instance with a local lock), and is
// reported as ErrBusy so the caller retries.
func (ts *TransitionService) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	release, err := ts.locker.Acquire(ctx, lockKey(orderID), ts.lockWait)
	if err != nil {
		if errors.Is(err, lifecycle.ErrBusy) {
			return err
		}
		return fmt.Errorf("%w: %v", lifecycle.ErrBusy, err)
	}
	defer release()

	err = fn()
	if errors.Is(err, lifecycle.ErrConflict) {
		return fmt.Errorf("%w: %v", lifecycle.ErrBusy, err)
	}
	return err
}

// RequestTransition moves the order to target. Asking for a status the order
// already has, or anything on a terminal order, is a no-op success with a warning.
func (ts *TransitionService) RequestTransition(ctx context.Context, orderID string, target models.OrderStatus, actor models.Actor) (models.TransitionResult, error) {
	mylog := ts.mylog.Action("transition_requested").With("order_id", orderID, "target_status", target, "actor", actor.String())

	if !lifecycle.ValidStatus(target) {
		return models.TransitionResult{}, fmt.Errorf("%w: unknown status %q", lifecycle.ErrInvalidTransition, target)
	}

	var result models.TransitionResult
	var commit *models.Commit

	err := ts.withOrderLock(ctx, orderID, func() error {
		agg, err := ts.store.LoadAggregate(ctx, orderID)
		if err != nil {
			return err
		}

		current := agg.Order
		if current.Status.Terminal() || current.Status == target {
			result = models.TransitionResult{
				OrderID:     current.ID,
				NewStatus:   current.Status,
				CommittedAt: current.StatusEnteredAt,
				Version:     current.Version,
				Warning:     fmt.Sprintf("order is already %s", current.Status),
			}
			return nil
		}

		c, err := lifecycle.Apply(agg, target, actor, ts.now())
		if err != nil {
			return err
		}
		if err := ts.store.CommitTransition(ctx, agg, c); err != nil {
			return err
		}
		commit = &c

		ts.publish(ctx, fanout.CommitEvents(c))
		result = models.TransitionResult{
			OrderID:     c.Order.ID,
			NewStatus:   c.Order.Status,
			CommittedAt: c.CommittedAt,
			Version:     c.Order.Version,
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrBusy):
			mylog.Warn("Order is busy", "error", err.Error())
		case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrNotFound):
			mylog.Info("Transition rejected", "error", err.Error())
		default:
			mylog.Error("Transition failed", err)
		}
		return models.TransitionResult{}, err
	}

	if commit == nil {
		mylog.Info("Transition is a no-op", "status", result.NewStatus)
		return result, nil
	}

	mylog.Action("transition_committed").Info("Transition committed",
		"from", commit.PreviousStatus, "to", commit.Order.Status, "version", commit.Order.Version)

	// the status change stands even if dispatch fails
	if err := ts.dispatcher.Dispatch(ctx, *commit); err != nil {
		mylog.Action("dispatch_failed").Error("Failed to hand commit to side-effect dispatcher", fmt.Errorf("%w: %v", lifecycle.ErrSideEffect, err))
	}
	return result, nil
}

func (ts *TransitionService) AssignDriver(ctx context.Context, orderID string, a lifecycle.DriverAssignment, actor models.Actor) (models.Delivery, error) {
	return ts.changeDelivery(ctx, orderID, "driver_assigned", func(agg models.Aggregate, now time.Time) (lifecycle.DeliveryChange, error) {
		return lifecycle.AssignDriver(agg, a, actor, now)
	})
}

func (ts *TransitionService) MarkPickedUp(ctx context.Context, orderID string, actor models.Actor) (models.Delivery, error) {
	return ts.changeDelivery(ctx, orderID, "delivery_picked_up", func(agg models.Aggregate, now time.Time) (lifecycle.DeliveryChange, error) {
		return lifecycle.MarkPickedUp(agg, actor, now)
	})
}

func (ts *TransitionService) changeDelivery(
	ctx context.Context,
	orderID, action string,
	apply func(models.Aggregate, time.Time) (lifecycle.DeliveryChange, error),
) (models.Delivery, error) {
	mylog := ts.mylog.Action(action).With("order_id", orderID)

	var delivery models.Delivery
	err := ts.withOrderLock(ctx, orderID, func() error {
		agg, err := ts.store.LoadAggregate(ctx, orderID)
		if err != nil {
			return err
		}
		change, err := apply(agg, ts.now())
		if err != nil {
			return err
		}
		if err := ts.store.SaveDeliveryChange(ctx, agg, change); err != nil {
			return err
		}

		delivery = change.Delivery
		ts.publish(ctx, []models.Event{fanout.DeliveryEvent(change.Delivery, change.Previous, agg.Order.Version+1, change.At)})
		return nil
	})
	if err != nil {
		mylog.Warn("Delivery change rejected", "error", err.Error())
		return models.Delivery{}, err
	}

	mylog.Info("Delivery updated", "delivery_status", delivery.Status, "driver_id", delivery.DriverID)
	return delivery, nil
}

// UpdateItemStatus moves one item's kitchen preparation status forward.
func (ts *TransitionService) UpdateItemStatus(ctx context.Context, orderID, itemID string, prep models.PrepStatus, actor models.Actor) (models.OrderItem, error) {
	mylog := ts.mylog.Action("item_status_updated").With("order_id", orderID, "item_id", itemID)

	if !lifecycle.ValidPrepStatus(prep) {
		return models.OrderItem{}, fmt.Errorf("%w: unknown prep status %q", core.ErrInvalidRequest, prep)
	}

	var updated models.OrderItem
	err := ts.withOrderLock(ctx, orderID, func() error {
		agg, err := ts.store.LoadAggregate(ctx, orderID)
		if err != nil {
			return err
		}
		if agg.Order.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", lifecycle.ErrInvalidTransition, orderID, agg.Order.Status)
		}

		idx := -1
		for i, it := range agg.Order.Items {
			if it.ID == itemID {
				idx = i
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: item %s", lifecycle.ErrNotFound, itemID)
		}

		item := agg.Order.Items[idx]
		prev := item.PrepStatus
		if !lifecycle.CanAdvanceItem(prev, prep) {
			return fmt.Errorf("%w: item %s -> %s", lifecycle.ErrInvalidTransition, prev, prep)
		}
		item.PrepStatus = prep

		now := ts.now()
		if err := ts.store.SaveItemStatus(ctx, agg, item, prev, actor, now); err != nil {
			return err
		}

		order := agg.Order
		order.Version++
		ts.publish(ctx, []models.Event{fanout.ItemEvent(order, item, prev, now)})
		updated = item
		return nil
	})
	if err != nil {
		mylog.Warn("Item status rejected", "error", err.Error())
		return models.OrderItem{}, err
	}

	mylog.Info("Item status updated", "prep_status", updated.PrepStatus)
	return updated, nil
}

func (ts *TransitionService) publish(ctx context.Context, events []models.Event) {
	for _, ev := range events {
		if err := ts.bus.Publish(ctx, ev); err != nil {
			ts.mylog.Action("event_publish_failed").Error("Failed to publish event", err, "event_id", ev.ID, "entity_type", ev.EntityType)
		}
	}
}
