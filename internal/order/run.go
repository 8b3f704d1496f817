package order

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restaurant-ops/internal/order/api/http"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/xpkg/config"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
)

type params struct {
	orderParams *core.OrderParams
	configPath  string
	cfg         *config.Config
}

// Execute starts order service
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_parse_completed").Debug("Received params", "order_params", params.orderParams, "config_path", params.configPath)

	if err = validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_validation_completed").Info("Successfully validate params")

	server := http.NewServer(newCtx, context.Background(), params.cfg, params.orderParams, mylog)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- server.Run()
	}()

	select {
	case <-newCtx.Done():
		mylog.Action("shutdown_signal_received").Info("Shutdown signal received")
		return server.Stop(context.Background())
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			mylog.Action("order_service_failed").Error("Server failed unexpectedly", err)
			server.Stop(context.Background())
			return err
		}
		mylog.Action("server_stopped").Info("Server exited normally")
		return server.Stop(context.Background())
	}
}

// parseParams parse params from terminal
func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("order-service", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")

	port := fs.Int("port", 3000, "Port to run the order service")
	storage := fs.String("storage", core.StoragePostgres, "Order store: postgres or memory")
	lockKind := fs.String("lock", core.LockLocal, "Per-order lock: local or redis")
	effectsKind := fs.String("effects", core.EffectsLocal, "Side effects: local workers or rabbitmq")
	monitor := fs.Bool("monitor", false, "Run the late-order monitor in this process")
	migrate := fs.Bool("migrate", true, "Apply the database schema on start")
	instance := fs.String("instance", "", "Instance name used to skip own relayed events (default hostname)")

	if err := fs.Parse(args); err != nil {
		return nil, xerrors.ErrParseCmd
	}

	if *showHelp {
		fs.Usage()
		return nil, xerrors.ErrHelp
	}

	name := *instance
	if name == "" {
		name, _ = os.Hostname()
	}

	return &params{
		orderParams: &core.OrderParams{
			Port:     *port,
			Storage:  *storage,
			Lock:     *lockKind,
			Effects:  *effectsKind,
			Monitor:  *monitor,
			Migrate:  *migrate,
			Instance: name,
		},
		configPath: *configPath,
	}, nil
}

// validateParams validates params
func validateParams(params *params) error {
	cfg, err := config.LoadConfig(params.configPath)
	if err != nil {
		return err
	}
	params.cfg = cfg

	op := params.orderParams
	if op.Port <= 0 || op.Port >= 65536 {
		return fmt.Errorf("port must be in [0: 65,535]: %d", op.Port)
	}
	if op.Storage != core.StoragePostgres && op.Storage != core.StorageMemory {
		return fmt.Errorf("unknown storage %q", op.Storage)
	}
	if op.Lock != core.LockLocal && op.Lock != core.LockRedis {
		return fmt.Errorf("unknown lock %q", op.Lock)
	}
	if op.Effects != core.EffectsLocal && op.Effects != core.EffectsRabbitMQ {
		return fmt.Errorf("unknown effects mode %q", op.Effects)
	}
	if op.Instance == "" {
		op.Instance = "order-service"
	}
	return nil
}
