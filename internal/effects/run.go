package effects

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"restaurant-ops/internal/effects/adapter/worker"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/xpkg/config"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
)

type params struct {
	workerParams *core.WorkerParams
	configPath   string
	cfg          *config.Config
}

// Execute starts the effects worker
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_parse_completed").Debug("Received params", "worker_params", params.workerParams, "config_path", params.configPath)

	if err := validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_validation_completed").Info("Successfully validate params")

	w := worker.NewWorker(newCtx, cancel, context.Background(), params.cfg, params.workerParams, mylog)

	runErr := w.Run()
	if runErr != nil {
		mylog.Action("effects_worker_failed").Error("Error running effects worker", runErr)
	}
	if err := w.Stop(); err != nil {
		return err
	}
	return runErr
}

// parseParams parse params from terminal
func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("effects-worker", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")

	prefetch := fs.Int("prefetch", core.DefaultPrefetch, "RabbitMQ prefetch count")
	concurrency := fs.Int("concurrency", core.DefaultConcurrency, "Effect jobs processed in parallel")

	if err := fs.Parse(args); err != nil {
		return nil, xerrors.ErrParseCmd
	}

	if *showHelp {
		fs.Usage()
		return nil, xerrors.ErrHelp
	}

	return &params{
		workerParams: &core.WorkerParams{
			Prefetch:    *prefetch,
			Concurrency: *concurrency,
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

	wp := params.workerParams
	if wp.Prefetch <= 0 {
		return fmt.Errorf("prefetch must be positive: %d", wp.Prefetch)
	}
	if wp.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive: %d", wp.Concurrency)
	}
	return nil
}
