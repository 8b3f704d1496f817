package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/xpkg/logger"

	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("effect queue is full")

// Local runs effects in-process. Jobs are sharded by order id so one order's
// jobs run in order on one worker; failed jobs come back after a growing delay.
type Local struct {
	shards      []chan models.EffectJob
	exec        core.IExecutor
	maxAttempts int
	retryDelay  time.Duration
	mylog       logger.Logger

	mu   sync.Mutex
	dead []models.EffectJob
	wg   sync.WaitGroup
}

func NewLocal(exec core.IExecutor, workers, buffer, maxAttempts int, retryDelay time.Duration, mylog logger.Logger) *Local {
	if workers <= 0 {
		workers = 1
	}
	shards := make([]chan models.EffectJob, workers)
	for i := range shards {
		shards[i] = make(chan models.EffectJob, buffer)
	}
	return &Local{
		shards:      shards,
		exec:        exec,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		mylog:       mylog,
	}
}

func (q *Local) shard(orderID string) chan models.EffectJob {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

// Enqueue never blocks the caller; a full shard is reported so the dispatcher can park the job.
func (q *Local) Enqueue(ctx context.Context, job models.EffectJob) error {
	select {
	case q.shard(job.OrderID) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *Local) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range q.shards {
		ch := q.shards[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-ch:
					q.process(ctx, job)
				}
			}
		})
	}
	err := g.Wait()
	q.wg.Wait()
	return err
}

func (q *Local) process(ctx context.Context, job models.EffectJob) {
	err := q.exec.Execute(ctx, job)
	if err == nil {
		return
	}

	job.Attempt++
	mylog := q.mylog.Action("effect_retry").With("order_id", job.OrderID, "effect", job.Kind, "attempt", job.Attempt)
	if job.Attempt >= q.maxAttempts {
		mylog.Action("effect_dead_lettered").Error("Effect gave up after max attempts", err)
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()
		return
	}

	delay := q.retryDelay * time.Duration(job.Attempt)
	mylog.Warn("Effect failed, retrying later", "delay", delay.String(), "error", err.Error())

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		select {
		case q.shard(job.OrderID) <- job:
		case <-ctx.Done():
		}
	}()
}

// Dead lists jobs that exhausted their attempts.
func (q *Local) Dead() []models.EffectJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.EffectJob(nil), q.dead...)
}
