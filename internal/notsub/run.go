package notsub

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"restaurant-ops/internal/notsub/adapter/consumer"
	"restaurant-ops/internal/notsub/app/core"
	"restaurant-ops/internal/xpkg/config"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"
)

type params struct {
	subParams  *core.Params
	configPath string
	cfg        *config.Config
}

// Execute starts the notification subscriber
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_parse_completed").Debug("Received params", "config_path", params.configPath, "shared", params.subParams.Shared)

	if err = validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_validation_completed").Info("Successfully validate params")

	mb, err := rabbitmq.New(context.Background(), params.cfg.RMQ, mylog, 1)
	if err != nil {
		mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
		return err
	}
	if err := mb.DeclareTopology(); err != nil {
		mb.Close()
		return err
	}
	mylog.Action("mb_connected").Info("Successful message broker connection")

	notsub := consumer.NewNotification(newCtx, mb, params.subParams, os.Stdout, mylog)

	runErr := notsub.Run()
	if runErr != nil {
		mylog.Action("notsub_run_failed").Error("Notification subscriber stopped with error", runErr)
	}
	if err := notsub.Stop(); err != nil {
		return err
	}
	return runErr
}

// parseParams parse params from terminal
func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("notification-subscriber", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")
	shared := fs.Bool("shared", false, "Share the durable notifications queue with other subscribers")
	storeID := fs.String("store", "", "Only print notifications for this store")

	if err := fs.Parse(args); err != nil {
		return nil, xerrors.ErrParseCmd
	}

	if *showHelp {
		fs.Usage()
		return nil, xerrors.ErrHelp
	}

	return &params{
		subParams:  &core.Params{Shared: *shared, StoreID: *storeID},
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
	return nil
}
