package escalation

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	orderdb "restaurant-ops/internal/order/adapter/db"
	"restaurant-ops/internal/xpkg/config"
	database "restaurant-ops/internal/xpkg/db"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"
)

type params struct {
	interval   time.Duration
	threshold  time.Duration
	configPath string
	cfg        *config.Config
}

// Execute starts the standalone escalation monitor
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	if err := validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_validation_completed").Info("Successfully validate params")

	db, err := database.Start(newCtx, params.cfg.DB, mylog)
	if err != nil {
		mylog.Action("db_connection_failed").Error("Failed to connect to database", err)
		return err
	}
	defer db.Close()
	mylog.Action("db_connected").Info("Successful database connection")

	mb, err := rabbitmq.New(newCtx, params.cfg.RMQ, mylog, 1)
	if err != nil {
		mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
		return err
	}
	defer mb.Close()
	if err := mb.DeclareTopology(); err != nil {
		mylog.Action("mb_topology_failed").Error("Failed to declare topology", err)
		return err
	}
	mylog.Action("mb_connected").Info("Successful message broker connection")

	thresholds := lifecycle.ThresholdsFromConfig(params.cfg.Escalation)
	monitor := NewMonitor(orderdb.NewOrderRepo(db), fanout.NewAMQPPublisher(mb, "escalation-monitor"), thresholds, params.cfg.Escalation.Interval, mylog)
	return monitor.Run(newCtx)
}

func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("escalation-monitor", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")

	interval := fs.Duration("interval", 0, "Scan interval, overrides escalation.interval")
	threshold := fs.Duration("threshold", 0, "Default late threshold, overrides escalation.threshold")

	if err := fs.Parse(args); err != nil {
		return nil, xerrors.ErrParseCmd
	}
	if *showHelp {
		fs.Usage()
		return nil, xerrors.ErrHelp
	}
	return &params{interval: *interval, threshold: *threshold, configPath: *configPath}, nil
}

func validateParams(params *params) error {
	if params.interval < 0 || params.threshold < 0 {
		return fmt.Errorf("interval and threshold cannot be negative")
	}
	cfg, err := config.LoadConfig(params.configPath)
	if err != nil {
		return err
	}
	if params.interval > 0 {
		cfg.Escalation.Interval = params.interval
	}
	if params.threshold > 0 {
		cfg.Escalation.Threshold = params.threshold
	}
	params.cfg = cfg
	return nil
}
