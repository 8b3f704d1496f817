package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"restaurant-ops/internal/effects/adapter/db"
	"restaurant-ops/internal/effects/adapter/idempotency"
	"restaurant-ops/internal/effects/adapter/notify"
	"restaurant-ops/internal/effects/adapter/queue"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/effects/app/services"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/xpkg/config"
	database "restaurant-ops/internal/xpkg/db"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	waitTime       = 10 * time.Second
	healthInterval = 15 * time.Second
)

// Worker consumes effect jobs from RabbitMQ and applies them against Postgres.
type Worker struct {
	cfg   *config.Config
	mylog logger.Logger

	params *core.WorkerParams
	db     *database.DB
	mb     *rabbitmq.Broker
	rdb    *redis.Client

	ctx          context.Context
	notifyCancel context.CancelFunc
	appCtx       context.Context

	mu sync.Mutex
}

func NewWorker(
	notifyCtx context.Context,
	notifyCancel context.CancelFunc,
	appCtx context.Context,
	cfg *config.Config,
	params *core.WorkerParams,
	mylog logger.Logger,
) *Worker {
	return &Worker{
		ctx:          notifyCtx,
		notifyCancel: notifyCancel,
		appCtx:       appCtx,
		cfg:          cfg,
		params:       params,
		mylog:        mylog,
	}
}

// Run connects to the backing services and consumes until the context is cancelled.
func (w *Worker) Run() error {
	mylog := w.mylog.Action("run_worker")

	if err := w.initializeDatabase(); err != nil {
		mylog.Action("db_connection_failed").Error("Failed to connect to database", err)
		return err
	}
	mylog.Action("db_connected").Info("Successful database connection")

	if err := w.initializeRabbitMQ(); err != nil {
		mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
		return err
	}
	mylog.Action("mb_connected").Info("Successful message broker connection")

	if err := w.initializeRedis(); err != nil {
		mylog.Action("redis_connection_failed").Error("Failed to connect to redis", err)
		return err
	}
	mylog.Action("redis_connected").Info("Successful redis connection")

	consumer := w.newConsumer()

	g, ctx := errgroup.WithContext(w.ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return w.watchHealth(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) newConsumer() *queue.Consumer {
	effCfg := w.cfg.Effects
	exec := services.NewExecutor(
		db.NewInventoryRepo(w.db),
		db.NewCommissionRepo(w.db),
		db.NewSessionRepo(w.db),
		notify.NewAMQP(w.mb),
		idempotency.NewRedis(w.rdb, effCfg.LeaseTTL, effCfg.IdempotencyTTL),
		fanout.NewAMQPPublisher(w.mb, "effects-worker"),
		w.mylog,
	)
	return queue.NewConsumer(w.mb, exec, effCfg.MaxAttempts, effCfg.RetryDelay, w.params.Concurrency, "effects-worker", w.mylog)
}

// watchHealth reconnects the database when it drops and shuts the worker down if it cannot.
func (w *Worker) watchHealth(ctx context.Context) error {
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := w.db.IsAlive(ctx); err != nil {
			w.mylog.Action("db_connection_lost").Warn("db conn lost, trying reconnecting", "error", err.Error())
			if err := w.db.Reconnect(ctx); err != nil {
				w.mylog.Action("db_reconnect_failed").Error("Reconnecting failed, app is shutting down", err)
				w.notifyCancel()
				return err
			}
		}
		if err := w.mb.IsAlive(); err != nil {
			w.mylog.Action("mb_connection_lost").Warn("Message broker unavailable, waiting for reconnect", "error", err.Error())
		}
	}
}

func (w *Worker) initializeDatabase() error {
	d, err := database.Start(w.ctx, w.cfg.DB, w.mylog)
	if err != nil {
		return err
	}
	w.db = d
	return nil
}

func (w *Worker) initializeRabbitMQ() error {
	mb, err := rabbitmq.New(w.ctx, w.cfg.RMQ, w.mylog, w.params.Prefetch)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	if err := mb.DeclareTopology(); err != nil {
		mb.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	w.mb = mb
	return nil
}

func (w *Worker) initializeRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     w.cfg.Redis.Addr,
		Password: w.cfg.Redis.Password,
		DB:       w.cfg.Redis.Database,
	})
	ctx, cancel := context.WithTimeout(w.ctx, waitTime)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("%w: %v", xerrors.ErrRedisConn, err)
	}
	w.rdb = rdb
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.mylog.Action("graceful_shutdown_started").Info("Shutting down")

	var errs []error
	if w.mb != nil {
		if err := w.mb.Close(); err != nil {
			w.mylog.Action("mb_close_failed").Error("Failed to close message broker", err)
			errs = append(errs, fmt.Errorf("mb close: %w", err))
		} else {
			w.mylog.Action("mb_closed").Info("Message broker closed")
		}
	}
	if w.rdb != nil {
		if err := w.rdb.Close(); err != nil {
			w.mylog.Action("redis_close_failed").Error("Failed to close redis", err)
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.mylog.Action("db_close_failed").Error("Failed to close database", err)
			errs = append(errs, fmt.Errorf("db close: %w", err))
		} else {
			w.mylog.Action("db_closed").Info("Database closed")
		}
	}

	if len(errs) == 0 {
		w.mylog.Action("graceful_shutdown_completed").Info("Successfully shut down")
	}
	return errors.Join(errs...)
}
