package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/xpkg/logger"
)

// Dispatcher turns commits into effect jobs and hands them to a queue.
// Jobs the queue refused wait in an in-memory outbox and are re-offered.
type Dispatcher struct {
	queue core.IQueue
	mylog logger.Logger

	mu     sync.Mutex
	outbox []models.EffectJob
}

func NewDispatcher(queue core.IQueue, mylog logger.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, mylog: mylog}
}

func (d *Dispatcher) Dispatch(ctx context.Context, commit models.Commit) error {
	var errs []error
	for _, job := range Plan(commit) {
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.mylog.Action("effect_enqueue_failed").Warn("Queue refused effect, keeping it in outbox",
				"order_id", job.OrderID, "effect", job.Kind, "error", err.Error())
			d.park(job)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) park(job models.EffectJob) {
	d.mu.Lock()
	d.outbox = append(d.outbox, job)
	d.mu.Unlock()
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outbox)
}

// Flush re-offers parked jobs once.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.mu.Lock()
	jobs := d.outbox
	d.outbox = nil
	d.mu.Unlock()

	for i, job := range jobs {
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.mu.Lock()
			d.outbox = append(d.outbox, jobs[i:]...)
			d.mu.Unlock()
			return
		}
	}
	if len(jobs) > 0 {
		d.mylog.Action("outbox_flushed").Info("Parked effects re-queued", "count", len(jobs))
	}
}

// RunOutbox flushes on every tick until ctx is done.
func (d *Dispatcher) RunOutbox(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.Flush(ctx)
		}
	}
}
