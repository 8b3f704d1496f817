package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/adapter/idempotency"
	effectsmem "restaurant-ops/internal/effects/adapter/memdb"
	effects "restaurant-ops/internal/effects/app/services"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/adapter/lock"
	"restaurant-ops/internal/order/adapter/memdb"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/domain/dto"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *recordingBus) Publish(_ context.Context, ev models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) byEntity(entity string) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Event
	for _, ev := range b.events {
		if ev.EntityType == entity {
			out = append(out, ev)
		}
	}
	return out
}

// syncDispatcher runs every planned effect inline so tests can assert on results.
type syncDispatcher struct {
	exec *effects.Executor
}

func (d syncDispatcher) Dispatch(ctx context.Context, commit models.Commit) error {
	var errs []error
	for _, job := range effects.Plan(commit) {
		if err := d.exec.Execute(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, models.Commit) error {
	return errors.New("queue unreachable")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	store       *memdb.Store
	locker      *lock.Local
	bus         *recordingBus
	inventory   *effectsmem.Inventory
	commissions *effectsmem.Commissions
	sessions    *effectsmem.Sessions
	clock       *clock
	orders      *OrderService
	transitions *TransitionService
}

var (
	waiter  = models.Actor{Role: "waiter", Name: "ana"}
	kitchen = models.Actor{Role: "kitchen", Name: "line-1"}
	driver  = models.Actor{Role: "driver", Name: "bo"}
)

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:       memdb.New(),
		locker:      lock.NewLocal(),
		bus:         &recordingBus{},
		inventory:   effectsmem.NewInventory(),
		commissions: effectsmem.NewCommissions(),
		sessions:    effectsmem.NewSessions(),
		clock:       &clock{now: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
	}
	exec := effects.NewExecutor(e.inventory, e.commissions, e.sessions, noopNotifier{}, idempotency.NewMemory(), e.bus, logger.Nop())

	thresholds := lifecycle.Thresholds{Default: 30 * time.Minute}
	e.orders = NewOrderService(e.store, e.bus, thresholds, 10, logger.Nop()).WithClock(e.clock.Now)
	e.transitions = NewTransitionService(e.store, e.locker, e.bus, syncDispatcher{exec}, time.Second, logger.Nop()).WithClock(e.clock.Now)

	require.NoError(t, e.orders.SeedTables(context.Background(), []models.Table{
		{ID: "t5", StoreID: "s1", Label: "Table 5", Capacity: 4},
	}))
	return e
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, any) error { return nil }

func (e *env) step(t *testing.T, orderID string, target models.OrderStatus, actor models.Actor) models.TransitionResult {
	t.Helper()
	e.clock.Advance(5 * time.Minute)
	res, err := e.transitions.RequestTransition(context.Background(), orderID, target, actor)
	require.NoError(t, err, "transition to %s", target)
	require.Empty(t, res.Warning)
	require.Equal(t, target, res.NewStatus)
	return res
}

func dineIn(items ...dto.Item) dto.CreateOrderRequest {
	return dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelDineIn, TableID: "t5", CustomerName: "Table five", Items: items}
}

func item(product string, qty int, price string) dto.Item {
	return dto.Item{ProductID: product, Name: product, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func orderAudit(records []models.AuditRecord, to models.OrderStatus) int {
	n := 0
	for _, r := range records {
		if r.EntityType == models.EntityOrder && r.ToStatus == string(to) {
			n++
		}
	}
	return n
}

func TestScenario_DineInOccupiesAndReleasesTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, dineIn(item("burger", 2, "12.50"), item("cola", 1, "3.00")))
	require.NoError(t, err)
	assert.Equal(t, "28.00", order.Total.StringFixed(2))
	assert.Equal(t, "ORD_20260314_001", order.Code)

	e.step(t, order.ID, models.StatusConfirmed, waiter)
	confirmedAt := e.clock.Now()

	table, err := e.store.GetTable(ctx, "t5")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, table.Status)
	require.NotNil(t, table.ActiveOrderID)
	assert.Equal(t, order.ID, *table.ActiveOrderID)

	e.step(t, order.ID, models.StatusPreparing, kitchen)
	e.step(t, order.ID, models.StatusReady, kitchen)
	e.clock.Advance(30 * time.Minute)
	res := e.step(t, order.ID, models.StatusDelivered, waiter)

	table, err = e.store.GetTable(ctx, "t5")
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, table.Status)
	assert.Nil(t, table.ActiveOrderID)

	sessions := e.sessions.List("t5")
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, res.CommittedAt.Sub(confirmedAt), sessions[0].Duration())
	assert.Equal(t, "28.00", sessions[0].Amount.StringFixed(2))

	tableEvents := e.bus.byEntity(models.EntityTable)
	require.Len(t, tableEvents, 2)
	assert.Equal(t, string(models.TableOccupied), tableEvents[0].NewStatus)
	assert.Equal(t, string(models.TableAvailable), tableEvents[1].NewStatus)
}

func TestScenario_DeliveryAccruesCommission(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{
		StoreID: "s1", Channel: models.ChannelDelivery, CustomerName: "Kim",
		Items:    []dto.Item{item("pizza", 1, "20.00")},
		Delivery: &dto.DeliveryRequest{Address: "12 Long Street", Fee: decimal.RequireFromString("6.00")},
	})
	require.NoError(t, err)
	require.NotNil(t, order.Delivery)
	assert.Equal(t, models.DeliveryPending, order.Delivery.Status)
	assert.Equal(t, "26.00", order.Total.StringFixed(2))

	e.step(t, order.ID, models.StatusConfirmed, waiter)
	e.step(t, order.ID, models.StatusPreparing, kitchen)
	e.step(t, order.ID, models.StatusReady, kitchen)

	// out for delivery needs a driver first
	_, err = e.transitions.RequestTransition(ctx, order.ID, models.StatusOutForDelivery, driver)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	percent := decimal.NewFromInt(15)
	d, err := e.transitions.AssignDriver(ctx, order.ID, lifecycle.DriverAssignment{DriverID: "drv-1", DriverName: "Bo", CommissionPercent: &percent}, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAssigned, d.Status)

	d, err = e.transitions.MarkPickedUp(ctx, order.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPickedUp, d.Status)

	e.step(t, order.ID, models.StatusOutForDelivery, driver)
	got, err := e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryInTransit, got.Delivery.Status)

	e.step(t, order.ID, models.StatusDelivered, driver)
	got, err = e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, got.Delivery.Status)
	assert.True(t, lifecycle.DeliveryConsistent(got.Status, got.Delivery.Status))

	earnings := e.commissions.Earnings("drv-1")
	require.Len(t, earnings, 1)
	assert.Equal(t, "0.90", earnings[0].Amount.StringFixed(2))
}

func TestScenario_CancelFromPreparingReversesStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.inventory.SetStock("s1", "burger", 10)

	order, err := e.orders.Create(ctx, dineIn(item("burger", 3, "12.50")))
	require.NoError(t, err)

	e.step(t, order.ID, models.StatusConfirmed, waiter)
	q, _ := e.inventory.Stock("s1", "burger")
	assert.Equal(t, 7, q)

	e.step(t, order.ID, models.StatusPreparing, kitchen)
	e.step(t, order.ID, models.StatusCancelled, waiter)

	q, _ = e.inventory.Stock("s1", "burger")
	assert.Equal(t, 10, q)

	table, err := e.store.GetTable(ctx, "t5")
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, table.Status)

	history, err := e.orders.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orderAudit(history, models.StatusCancelled))
}

func TestScenario_CancelDeliveryFromPreparingReleasesDelivery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.inventory.SetStock("s1", "pizza", 5)

	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{
		StoreID: "s1", Channel: models.ChannelDelivery, CustomerName: "Kim",
		Items:    []dto.Item{item("pizza", 2, "20.00")},
		Delivery: &dto.DeliveryRequest{Address: "12 Long Street", Fee: decimal.RequireFromString("6.00")},
	})
	require.NoError(t, err)

	e.step(t, order.ID, models.StatusConfirmed, waiter)
	q, _ := e.inventory.Stock("s1", "pizza")
	assert.Equal(t, 3, q)

	_, err = e.transitions.AssignDriver(ctx, order.ID, lifecycle.DriverAssignment{DriverID: "drv-1", DriverName: "Bo"}, waiter)
	require.NoError(t, err)
	e.step(t, order.ID, models.StatusPreparing, kitchen)
	e.step(t, order.ID, models.StatusCancelled, waiter)

	q, _ = e.inventory.Stock("s1", "pizza")
	assert.Equal(t, 5, q)

	got, err := e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, models.DeliveryCancelled, got.Delivery.Status)
	assert.True(t, lifecycle.DeliveryConsistent(got.Status, got.Delivery.Status))
	assert.Empty(t, e.commissions.Earnings("drv-1"))

	history, err := e.orders.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orderAudit(history, models.StatusCancelled))
}

func TestRequestTransition_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter, Items: []dto.Item{item("tea", 1, "2.00")}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		orderID string
		target  models.OrderStatus
		wantErr error
	}{
		{name: "skipping a step", orderID: order.ID, target: models.StatusReady, wantErr: lifecycle.ErrInvalidTransition},
		{name: "out for delivery on counter", orderID: order.ID, target: models.StatusOutForDelivery, wantErr: lifecycle.ErrInvalidTransition},
		{name: "unknown status", orderID: order.ID, target: "eaten", wantErr: lifecycle.ErrInvalidTransition},
		{name: "unknown order", orderID: "nope", target: models.StatusConfirmed, wantErr: lifecycle.ErrNotFound},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := e.transitions.RequestTransition(ctx, testCase.orderID, testCase.target, waiter)
			assert.ErrorIs(t, err, testCase.wantErr)
		})
	}

	got, err := e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestRequestTransition_TerminalIsNoOp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelPickup, Items: []dto.Item{item("tea", 1, "2.00")}})
	require.NoError(t, err)

	e.step(t, order.ID, models.StatusCancelled, waiter)

	for i := 0; i < 2; i++ {
		res, err := e.transitions.RequestTransition(ctx, order.ID, models.StatusCancelled, waiter)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Warning)
		assert.Equal(t, models.StatusCancelled, res.NewStatus)
	}
	res, err := e.transitions.RequestTransition(ctx, order.ID, models.StatusConfirmed, waiter)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)

	history, err := e.orders.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orderAudit(history, models.StatusCancelled))
}

func TestRequestTransition_ConcurrentSameTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dineIn(item("burger", 1, "12.50")))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed, warned := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.transitions.RequestTransition(ctx, order.ID, models.StatusConfirmed, waiter)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Warning == "" {
				committed++
			} else {
				warned++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, n-1, warned)

	history, err := e.orders.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orderAudit(history, models.StatusConfirmed))
	assert.Zero(t, e.locker.Len())
}

func TestRequestTransition_BusyWhenLockHeld(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter, Items: []dto.Item{item("tea", 1, "2.00")}})
	require.NoError(t, err)

	release, err := e.locker.Acquire(ctx, lockKey(order.ID), time.Second)
	require.NoError(t, err)
	defer release()

	ts := NewTransitionService(e.store, e.locker, e.bus, failingDispatcher{}, 20*time.Millisecond, logger.Nop())
	_, err = ts.RequestTransition(ctx, order.ID, models.StatusConfirmed, waiter)
	assert.ErrorIs(t, err, lifecycle.ErrBusy)
}

func TestRequestTransition_DispatchFailureKeepsCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter, Items: []dto.Item{item("tea", 1, "2.00")}})
	require.NoError(t, err)

	ts := NewTransitionService(e.store, e.locker, e.bus, failingDispatcher{}, time.Second, logger.Nop())
	res, err := ts.RequestTransition(ctx, order.ID, models.StatusConfirmed, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, res.NewStatus)

	got, err := e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestUpdateItemStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dineIn(item("burger", 1, "12.50")))
	require.NoError(t, err)
	itemID := order.Items[0].ID

	updated, err := e.transitions.UpdateItemStatus(ctx, order.ID, itemID, models.PrepPreparing, kitchen)
	require.NoError(t, err)
	assert.Equal(t, models.PrepPreparing, updated.PrepStatus)

	_, err = e.transitions.UpdateItemStatus(ctx, order.ID, itemID, models.PrepPending, kitchen)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = e.transitions.UpdateItemStatus(ctx, order.ID, "missing", models.PrepReady, kitchen)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	got, err := e.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Len(t, e.bus.byEntity(models.EntityOrderItem), 1)
}

func TestLateOrders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.orders.Create(ctx, dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelPickup, Items: []dto.Item{item("tea", 1, "2.00")}})
	require.NoError(t, err)
	e.step(t, order.ID, models.StatusConfirmed, waiter)
	e.step(t, order.ID, models.StatusPreparing, kitchen)

	e.clock.Advance(30 * time.Minute)
	resp, err := e.orders.LateOrders(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, resp.OrderIDs)

	e.clock.Advance(time.Second)
	resp, err = e.orders.LateOrders(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, resp.OrderIDs)

	e.step(t, order.ID, models.StatusReady, kitchen)
	resp, err = e.orders.LateOrders(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, resp.OrderIDs)
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		req  dto.CreateOrderRequest
	}{
		{name: "dine in without table", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelDineIn, Items: []dto.Item{item("a", 1, "1")}}},
		{name: "delivery without address", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelDelivery, Items: []dto.Item{item("a", 1, "1")}}},
		{name: "pickup with table", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelPickup, TableID: "t5", Items: []dto.Item{item("a", 1, "1")}}},
		{name: "no items", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter}},
		{name: "unknown channel", req: dto.CreateOrderRequest{StoreID: "s1", Channel: "drone", Items: []dto.Item{item("a", 1, "1")}}},
		{name: "zero quantity", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter, Items: []dto.Item{item("a", 0, "1")}}},
		{name: "discount above total", req: dto.CreateOrderRequest{StoreID: "s1", Channel: models.ChannelCounter, Discount: decimal.NewFromInt(5), Items: []dto.Item{item("a", 1, "1")}}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := e.orders.Create(context.Background(), testCase.req)
			assert.Error(t, err)
		})
	}
}

func TestCreate_TableOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.orders.SeedTables(ctx, []models.Table{{ID: "t9", StoreID: "s2", Label: "Table 9", Capacity: 2}}))

	req := dineIn(item("burger", 1, "12.50"))
	req.TableID = "t9"
	_, err := e.orders.Create(ctx, req)
	assert.ErrorIs(t, err, core.ErrStoreMismatch)

	req.TableID = "t404"
	_, err = e.orders.Create(ctx, req)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}
