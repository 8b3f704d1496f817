package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"restaurant-ops/internal/domain/models"
	effectsdb "restaurant-ops/internal/effects/adapter/db"
	"restaurant-ops/internal/effects/adapter/idempotency"
	effectsmem "restaurant-ops/internal/effects/adapter/memdb"
	"restaurant-ops/internal/effects/adapter/notify"
	"restaurant-ops/internal/effects/adapter/queue"
	effectscore "restaurant-ops/internal/effects/app/core"
	effects "restaurant-ops/internal/effects/app/services"
	"restaurant-ops/internal/escalation"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	orderdb "restaurant-ops/internal/order/adapter/db"
	"restaurant-ops/internal/order/adapter/lock"
	"restaurant-ops/internal/order/adapter/memdb"
	"restaurant-ops/internal/order/api/http/handle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/app/services"
	"restaurant-ops/internal/xpkg/config"
	database "restaurant-ops/internal/xpkg/db"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

var ErrServerClosed = errors.New("Server closed")

type runner func(ctx context.Context) error

type Server struct {
	router      *mux.Router
	cfg         *config.Config
	srv         *http.Server
	orderParams *core.OrderParams
	mylog       logger.Logger

	db     *database.DB
	mb     *rabbitmq.Broker
	rdb    *redis.Client
	kafkaW *kafka.Writer

	store     core.IOrderStore
	hub       *fanout.Hub
	inventory stockSetter
	runners   map[string]runner

	ctx    context.Context
	appCtx context.Context
	mu     sync.Mutex

	bgCancel context.CancelFunc
	bg       *errgroup.Group
}

type stockSetter interface {
	SetStock(ctx context.Context, storeID, productID string, qty int) error
}

func NewServer(ctx, appCtx context.Context, cfg *config.Config, orderParams *core.OrderParams, mylog logger.Logger) *Server {
	return &Server{
		ctx:         ctx,
		appCtx:      appCtx,
		cfg:         cfg,
		orderParams: orderParams,
		mylog:       mylog,
		router:      mux.NewRouter(),
		runners:     make(map[string]runner),
	}
}

// Run connects the backing services, wires the engine and serves until ctx is done.
func (s *Server) Run() error {
	mylog := s.mylog.Action("server_started")

	if err := s.initialize(); err != nil {
		return err
	}
	if err := s.Configure(); err != nil {
		mylog.Action("configure_failed").Error("Failed to wire order service", err)
		return err
	}
	s.startBackground()

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.orderParams.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Unlock()

	mylog = mylog.WithGroup("details").With(
		"port", s.orderParams.Port,
		"storage", s.orderParams.Storage,
		"lock", s.orderParams.Lock,
		"effects", s.orderParams.Effects,
		"instance", s.orderParams.Instance,
	)
	mylog.Info("server is running")
	return s.startHTTPServer()
}

func (s *Server) initialize() error {
	mylog := s.mylog.Action("server_started")

	switch s.orderParams.Storage {
	case core.StoragePostgres:
		if err := s.initializeDatabase(); err != nil {
			mylog.Action("db_connection_failed").Error("Failed to connect to database", err)
			return err
		}
		mylog.Action("db_connected").Info("Successful database connection")
		s.store = orderdb.NewOrderRepo(s.db)
	default:
		s.store = memdb.New()
	}

	if s.orderParams.Effects == core.EffectsRabbitMQ {
		if err := s.initializeRabbitMQ(); err != nil {
			mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
			return err
		}
		mylog.Action("mb_connected").Info("Successful message broker connection")
	}

	if s.orderParams.Lock == core.LockRedis {
		if err := s.initializeRedis(); err != nil {
			mylog.Action("redis_connection_failed").Error("Failed to connect to redis", err)
			return err
		}
		mylog.Action("redis_connected").Info("Successful redis connection")
	}
	return nil
}

// Stop provides a programmatic shutdown. Accepts a context for timeout control.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mylog.Action("graceful_shutdown_started").Info("Shutting down HTTP server...")

	var errs []error
	if s.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, core.WaitTime*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.mylog.Action("graceful_shutdown_failed").Error("Failed to shut down HTTP server gracefully", err)
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if s.bgCancel != nil {
		s.bgCancel()
		if err := s.bg.Wait(); err != nil {
			s.mylog.Action("background_stopped").Warn("Background task ended with error", "error", err.Error())
		}
	}

	if s.kafkaW != nil {
		if err := s.kafkaW.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.mylog.Action("db_close_failed").Error("Failed to close database", err)
			errs = append(errs, fmt.Errorf("db close: %w", err))
		} else if s.db != nil {
			s.mylog.Action("db_closed").Info("Database closed")
		}
	}

	if s.mb != nil {
		if err := s.mb.Close(); err != nil {
			s.mylog.Action("mb_close_failed").Error("Failed to close message broker", err)
			errs = append(errs, fmt.Errorf("mb close: %w", err))
		} else {
			s.mylog.Action("mb_closed").Info("Message broker closed")
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.mylog.Action("graceful_shutdown_completed").Info("HTTP server shut down gracefully")
	return nil
}

func (s *Server) startHTTPServer() error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		} else {
			errCh <- nil
		}
	}()

	select {
	case <-s.ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) initializeDatabase() error {
	db, err := database.Start(s.appCtx, s.cfg.DB, s.mylog)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if s.orderParams.Migrate {
		if err := db.Migrate(s.appCtx); err != nil {
			db.Close()
			return err
		}
	}
	s.db = db
	return nil
}

func (s *Server) initializeRabbitMQ() error {
	mb, err := rabbitmq.New(s.appCtx, s.cfg.RMQ, s.mylog, effectscore.DefaultPrefetch)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	if err := mb.DeclareTopology(); err != nil {
		mb.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	s.mb = mb
	return nil
}

func (s *Server) initializeRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.Database,
	})
	ctx, cancel := context.WithTimeout(s.appCtx, core.WaitTime*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("%w: %v", xerrors.ErrRedisConn, err)
	}
	s.rdb = rdb
	return nil
}

// Configure wires the engine, the effect pipeline and the event fan-out, then registers routes.
func (s *Server) Configure() error {
	s.hub = fanout.NewHub(fanout.DefaultBuffer, s.mylog)
	bus := s.eventBus()

	dispatcher := effects.NewDispatcher(s.effectQueue(bus), s.mylog)
	s.runners["effects_outbox"] = func(ctx context.Context) error {
		return dispatcher.RunOutbox(ctx, effectscore.OutboxInterval)
	}

	var locker core.ILocker = lock.NewLocal()
	if s.rdb != nil {
		locker = lock.NewRedis(s.rdb, s.cfg.Engine.LockTTL, s.mylog)
	}

	thresholds := lifecycle.ThresholdsFromConfig(s.cfg.Escalation)
	orderService := services.NewOrderService(s.store, bus, thresholds, s.cfg.Effects.CommissionPercent, s.mylog)
	transitionService := services.NewTransitionService(s.store, locker, bus, dispatcher, s.cfg.Engine.LockWait, s.mylog)

	if s.orderParams.Monitor {
		monitor := escalation.NewMonitor(s.store, bus, thresholds, s.cfg.Escalation.Interval, s.mylog)
		s.runners["escalation_monitor"] = monitor.Run
	}

	if err := s.seed(orderService); err != nil {
		return err
	}

	s.routes(
		handle.NewOrderHandler(orderService, transitionService, s.mylog),
		handle.NewStoreHandler(orderService, s.mylog),
		handle.NewStreamHandler(s.hub, s.mylog),
	)
	return nil
}

// eventBus fans every event out to the local hub, the broker and the optional Kafka export.
func (s *Server) eventBus() fanout.Publisher {
	bus := fanout.Tee{s.hub}
	if s.mb != nil {
		bus = append(bus, fanout.NewAMQPPublisher(s.mb, s.orderParams.Instance))
		relay := fanout.NewRelay(s.mb, s.hub, s.orderParams.Instance, s.mylog)
		s.runners["event_relay"] = relay.Run
	}
	if s.cfg.Kafka.Enabled {
		s.kafkaW = fanout.NewKafkaWriter(s.cfg.Kafka)
		exporter := fanout.NewKafkaExporter(s.kafkaW, 0, s.mylog)
		bus = append(bus, exporter)
		s.runners["kafka_export"] = exporter.Run
	}
	return bus
}

// effectQueue returns where committed transitions send their side effects.
func (s *Server) effectQueue(bus fanout.Publisher) effectscore.IQueue {
	if s.orderParams.Effects == core.EffectsRabbitMQ {
		if s.db != nil {
			s.inventory = effectsdb.NewInventoryRepo(s.db)
		}
		return queue.NewAMQP(s.mb)
	}

	var (
		inventory   effectscore.IInventory
		commissions effectscore.ICommissions
		sessions    effectscore.ISessions
	)
	if s.db != nil {
		inv := effectsdb.NewInventoryRepo(s.db)
		inventory, commissions, sessions = inv, effectsdb.NewCommissionRepo(s.db), effectsdb.NewSessionRepo(s.db)
		s.inventory = inv
	} else {
		inv := effectsmem.NewInventory()
		inventory, commissions, sessions = inv, effectsmem.NewCommissions(), effectsmem.NewSessions()
		s.inventory = memStock{inv}
	}

	var idem effectscore.IIdempotency = idempotency.NewMemory()
	if s.rdb != nil {
		idem = idempotency.NewRedis(s.rdb, s.cfg.Effects.LeaseTTL, s.cfg.Effects.IdempotencyTTL)
	}
	var notifier effectscore.INotifier = notify.NewLog(s.mylog)
	if s.mb != nil {
		notifier = notify.NewAMQP(s.mb)
	}

	exec := effects.NewExecutor(inventory, commissions, sessions, notifier, idem, bus, s.mylog)
	local := queue.NewLocal(exec, s.cfg.Effects.Workers, effectscore.LocalBuffer, s.cfg.Effects.MaxAttempts, s.cfg.Effects.RetryDelay, s.mylog)
	s.runners["effects_local"] = local.Run
	return local
}

type memStock struct {
	inv *effectsmem.Inventory
}

func (m memStock) SetStock(_ context.Context, storeID, productID string, qty int) error {
	m.inv.SetStock(storeID, productID, qty)
	return nil
}

func (s *Server) seed(orderService *services.OrderService) error {
	ctx, cancel := context.WithTimeout(s.appCtx, core.WaitTime*time.Second)
	defer cancel()

	tables := make([]models.Table, 0, len(s.cfg.Seed.Tables))
	for _, t := range s.cfg.Seed.Tables {
		tables = append(tables, models.Table{ID: t.ID, StoreID: t.StoreID, Label: t.Label, Capacity: t.Capacity, Status: models.TableAvailable})
	}
	if err := orderService.SeedTables(ctx, tables); err != nil {
		return err
	}

	if s.inventory == nil {
		return nil
	}
	for _, st := range s.cfg.Seed.Inventory {
		if err := s.inventory.SetStock(ctx, st.StoreID, st.ProductID, st.Quantity); err != nil {
			return fmt.Errorf("seed stock %s/%s: %w", st.StoreID, st.ProductID, err)
		}
	}
	return nil
}

// startBackground runs the queue workers, outbox, relay, exporter and monitor until Stop.
func (s *Server) startBackground() {
	ctx, cancel := context.WithCancel(s.appCtx)
	s.bgCancel = cancel
	s.bg = new(errgroup.Group)
	for name, run := range s.runners {
		name, run := name, run
		s.bg.Go(func() error {
			s.mylog.Action("background_started").Debug("Background task started", "task", name)
			if err := run(ctx); err != nil {
				s.mylog.Action("background_failed").Error("Background task failed", err, "task", name)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
}

func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Actor", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
	})
	return c.Handler(s.router)
}

func (s *Server) routes(orders *handle.OrderHandler, stores *handle.StoreHandler, stream *handle.StreamHandler) {
	s.router.Use(requestID, s.accessLog)

	s.router.Handle("/health", s.health()).Methods(http.MethodGet)

	s.router.Handle("/orders", orders.Create()).Methods(http.MethodPost)
	s.router.Handle("/orders/{id}", orders.Get()).Methods(http.MethodGet)
	s.router.Handle("/orders/{id}/history", orders.History()).Methods(http.MethodGet)
	s.router.Handle("/orders/{id}/transitions", orders.Transition()).Methods(http.MethodPost)
	s.router.Handle("/orders/{id}/delivery/assign", orders.AssignDriver()).Methods(http.MethodPost)
	s.router.Handle("/orders/{id}/delivery/pickup", orders.Pickup()).Methods(http.MethodPost)
	s.router.Handle("/orders/{id}/items/{itemId}", orders.UpdateItem()).Methods(http.MethodPatch)

	s.router.Handle("/stores/{storeId}/orders", stores.ActiveOrders()).Methods(http.MethodGet)
	s.router.Handle("/stores/{storeId}/late-orders", stores.LateOrders()).Methods(http.MethodGet)
	s.router.Handle("/stores/{storeId}/tables", stores.Tables()).Methods(http.MethodGet)
	s.router.Handle("/stores/{storeId}/events", stream.Subscribe()).Methods(http.MethodGet)
}
