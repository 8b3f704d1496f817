package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders []models.Order
}

func (f *fakeOrders) set(orders ...models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func (f *fakeOrders) ListActive(_ context.Context, storeID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if (storeID == "" || o.StoreID == storeID) && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

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

func (b *recordingBus) kinds() []models.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.EventKind, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind
	}
	return out
}

func order(id string, status models.OrderStatus, channel models.Channel, entered time.Time) models.Order {
	return models.Order{ID: id, StoreID: "s1", Status: status, Channel: channel, StatusEnteredAt: entered, Version: 2}
}

func TestMonitor_Scan(t *testing.T) {
	now := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	thresholds := lifecycle.Thresholds{
		Default:   30 * time.Minute,
		ByChannel: map[models.Channel]time.Duration{models.ChannelDelivery: 45 * time.Minute},
	}

	orders := &fakeOrders{}
	bus := &recordingBus{}
	m := NewMonitor(orders, bus, thresholds, time.Minute, logger.Nop()).WithClock(func() time.Time { return now })

	orders.set(
		order("a", models.StatusPreparing, models.ChannelDineIn, now.Add(-31*time.Minute)),
		order("b", models.StatusPreparing, models.ChannelDelivery, now.Add(-40*time.Minute)),
		order("c", models.StatusReady, models.ChannelPickup, now.Add(-2*time.Hour)),
		order("d", models.StatusConfirmed, models.ChannelCounter, now.Add(-30*time.Minute)),
	)

	res, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.NewlyLate)
	assert.Empty(t, res.Cleared)
	assert.Equal(t, []models.EventKind{models.EventOrderLate}, bus.kinds())

	// a second scan with nothing changed stays quiet
	res, err = m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.NewlyLate)
	assert.Equal(t, 1, res.StillLate)
	assert.Len(t, bus.kinds(), 1)

	// a becomes ready, d crosses the threshold
	now = now.Add(time.Minute)
	orders.set(
		order("a", models.StatusReady, models.ChannelDineIn, now),
		order("b", models.StatusPreparing, models.ChannelDelivery, now.Add(-41*time.Minute)),
		order("d", models.StatusConfirmed, models.ChannelCounter, now.Add(-31*time.Minute)),
	)
	res, err = m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, res.NewlyLate)
	assert.Equal(t, []string{"a"}, res.Cleared)
	assert.ElementsMatch(t, []models.EventKind{models.EventOrderLate, models.EventOrderLate, models.EventLateCleared}, bus.kinds())
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	orders := &fakeOrders{}
	bus := &recordingBus{}
	now := time.Now()
	orders.set(order("a", models.StatusConfirmed, models.ChannelPickup, now.Add(-time.Hour)))
	m := NewMonitor(orders, bus, lifecycle.Thresholds{Default: time.Minute}, 10*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(bus.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
