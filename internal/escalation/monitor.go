// Package escalation watches active orders and broadcasts when they become late
// or stop being late. Lateness is never stored; the monitor only remembers the
// set it reported on its previous scan.
package escalation

import (
	"context"
	"sort"
	"sync"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/xpkg/logger"
)

type OrderLister interface {
	// ListActive with an empty store id lists every store.
	ListActive(ctx context.Context, storeID string) ([]models.Order, error)
}

type Monitor struct {
	orders     OrderLister
	bus        fanout.Publisher
	thresholds lifecycle.Thresholds
	interval   time.Duration
	now        func() time.Time
	mylog      logger.Logger

	mu   sync.Mutex
	late map[string]models.Order
}

// ScanResult lists the order ids that changed lateness during one scan.
type ScanResult struct {
	NewlyLate []string
	Cleared   []string
	StillLate int
}

func NewMonitor(orders OrderLister, bus fanout.Publisher, thresholds lifecycle.Thresholds, interval time.Duration, mylog logger.Logger) *Monitor {
	return &Monitor{
		orders:     orders,
		bus:        bus,
		thresholds: thresholds,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
		mylog:      mylog,
		late:       make(map[string]models.Order),
	}
}

func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Run scans once right away and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	mylog := m.mylog.Action("escalation_monitor")
	mylog.Info("Monitor started", "interval", m.interval.String(), "default_threshold", m.thresholds.Default.String())

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
			mylog.Error("Scan failed", err)
		}
		select {
		case <-ctx.Done():
			mylog.Info("Monitor stopped")
			return nil
		case <-t.C:
		}
	}
}

func (m *Monitor) Scan(ctx context.Context) (ScanResult, error) {
	orders, err := m.orders.ListActive(ctx, "")
	if err != nil {
		return ScanResult{}, err
	}
	now := m.now()

	current := make(map[string]models.Order)
	for _, o := range lifecycle.LateOrders(orders, now, m.thresholds) {
		current[o.ID] = o
	}

	m.mu.Lock()
	previous := m.late
	m.late = current
	m.mu.Unlock()

	var res ScanResult
	for id, o := range current {
		if _, ok := previous[id]; ok {
			res.StillLate++
			continue
		}
		res.NewlyLate = append(res.NewlyLate, id)
		m.publish(ctx, fanout.LateEvent(models.EventOrderLate, o, now))
	}
	for id, o := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		res.Cleared = append(res.Cleared, id)
		m.publish(ctx, fanout.LateEvent(models.EventLateCleared, o, now))
	}
	sort.Strings(res.NewlyLate)
	sort.Strings(res.Cleared)

	if len(res.NewlyLate) > 0 || len(res.Cleared) > 0 {
		m.mylog.Action("late_orders_changed").Info("Late set changed",
			"newly_late", len(res.NewlyLate), "cleared", len(res.Cleared), "still_late", res.StillLate)
	}
	return res, nil
}

func (m *Monitor) publish(ctx context.Context, ev models.Event) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.mylog.Action("event_publish_failed").Error("Failed to publish late event", err, "order_id", ev.OrderID, "kind", ev.Kind)
	}
}
