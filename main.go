package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"restaurant-ops/internal/effects"
	"restaurant-ops/internal/escalation"
	"restaurant-ops/internal/notsub"
	"restaurant-ops/internal/order"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/joho/godotenv"
)

type service struct {
	name    string
	execute func(ctx context.Context, mylog logger.Logger, args []string) error
}

var services = map[string]service{
	"order-service":           {"order-service", order.Execute},
	"os":                      {"order-service", order.Execute},
	"effects-worker":          {"effects-worker", effects.Execute},
	"ew":                      {"effects-worker", effects.Execute},
	"escalation-monitor":      {"escalation-monitor", escalation.Execute},
	"em":                      {"escalation-monitor", escalation.Execute},
	"notification-subscriber": {"notification-subscriber", notsub.Execute},
	"ns":                      {"notification-subscriber", notsub.Execute},
}

func main() {
	_ = godotenv.Load()
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	mylogger, err := logger.New(level)
	if err != nil {
		log.Fatalf("log error: %v", err)
	}

	fs := flag.NewFlagSet("main", flag.ExitOnError)
	mode := fs.String("mode", "", "service to run: order-service | effects-worker | escalation-monitor | notification-subscriber")

	// only --mode is ours, the rest go to the service
	modeArgs, remainingArgs := splitMode(os.Args[1:])
	if err := fs.Parse(modeArgs); err != nil {
		mylogger.Action("restaurant_ops_failed").Error("Failed to parse flags", err)
		help(fs)
		os.Exit(1)
	}

	if *mode == "" {
		mylogger.Action("restaurant_ops_failed").Error("Failed to start restaurant ops", xerrors.ErrModeFlag)
		help(fs)
		os.Exit(1)
	}

	svc, ok := services[*mode]
	if !ok {
		mylogger.Action("restaurant_ops_failed").Error("Failed to start restaurant ops", xerrors.ErrUnknownService, "mode", *mode)
		help(fs)
		os.Exit(1)
	}

	l := mylogger.With("service", svc.name)
	l.Action("service_started").Info("Successfully started")
	if err := svc.execute(context.Background(), l, remainingArgs); err != nil {
		if errors.Is(err, xerrors.ErrHelp) {
			return
		}
		l.Action("service_failed").Error("Service stopped with error", err)
		log.Fatalf("failed to execute %s: %s", svc.name, err)
	}
	l.Action("service_completed").Info("Successfully completed")
}

// splitMode separates "--mode x" or "--mode=x" from the service flags.
func splitMode(args []string) (modeArgs, rest []string) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "--mode") && !strings.HasPrefix(arg, "-mode") {
			continue
		}
		end := i + 1
		if !strings.Contains(arg, "=") && end < len(args) {
			end++
		}
		rest = append(append(rest, args[:i]...), args[end:]...)
		return args[i:end], rest
	}
	return nil, args
}

func help(fs *flag.FlagSet) {
	fmt.Println("\nUsage:")
	fs.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  ./restaurant-ops --mode=order-service --port=3000 --storage=postgres --effects=rabbitmq --lock=redis")
	fmt.Println("  ./restaurant-ops --mode=order-service --storage=memory --monitor")
	fmt.Println("  ./restaurant-ops --mode=effects-worker --prefetch=10 --concurrency=4")
	fmt.Println("  ./restaurant-ops --mode=escalation-monitor --interval=1m --threshold=30m")
	fmt.Println("  ./restaurant-ops --mode=notification-subscriber --store=s1")
}
