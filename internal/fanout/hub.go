// Package fanout delivers committed changes to consumer views, scoped per store.
package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/logger"
)

// Publisher is the event bus contract: at-least-once, per-store scoped.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

const DefaultBuffer = 64

// Hub is the in-process fan-out. A subscriber that cannot keep up is dropped
// and sees its liveness flag go false; it must re-fetch state on reconnect.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	mylog  logger.Logger
}

func NewHub(buffer int, mylog logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		mylog:  mylog,
	}
}

type Subscription struct {
	StoreID string

	hub    *Hub
	events chan models.Event
	alive  atomic.Bool
	once   sync.Once
}

// Events is closed when the subscription ends, either by Close or by lagging.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

func (s *Subscription) Alive() bool {
	return s.alive.Load()
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) Subscribe(storeID string) *Subscription {
	sub := &Subscription{
		StoreID: storeID,
		hub:     h,
		events:  make(chan models.Event, h.buffer),
	}
	sub.alive.Store(true)

	h.mu.Lock()
	if h.subs[storeID] == nil {
		h.subs[storeID] = make(map[*Subscription]struct{})
	}
	h.subs[storeID][sub] = struct{}{}
	h.mu.Unlock()

	h.mylog.Action("subscriber_added").Debug("Subscriber joined", "store_id", storeID)
	return sub
}

// Publish never blocks on a slow subscriber.
func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	if ev.StoreID == "" {
		return errors.New("event has no store id")
	}

	var lagging []*Subscription
	h.mu.RLock()
	for sub := range h.subs[ev.StoreID] {
		select {
		case sub.events <- ev:
		default:
			lagging = append(lagging, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagging {
		h.mylog.Action("subscriber_dropped").Warn("Subscriber lagging, dropping it", "store_id", sub.StoreID)
		h.remove(sub)
	}
	return nil
}

func (h *Hub) Subscribers(storeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[storeID])
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set := h.subs[sub.StoreID]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.StoreID)
			}
		}
		sub.alive.Store(false)
		close(sub.events)
		h.mu.Unlock()
	})
}

// Tee publishes to every publisher and reports all failures.
type Tee []Publisher

func (t Tee) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, p := range t {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
