package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/microservices/floor"
	"restaurant-floor/internal/microservices/notificator"
)

func main() {
	mode := flag.String("mode", "", "floor-service | notification-subscriber")
	cfgPath := flag.String("config", "", "path to config.yaml (default: search working directory)")
	port := flag.Int("port", 0, "floor-service: http port (overrides http.port)")
	store := flag.String("store", "postgres", "floor-service: postgres | memory")
	seed := flag.Bool("seed", false, "floor-service: fill the memory store with demo tables and menu")
	flag.Parse()

	lg := logger.New("bootstrap")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, nil)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "floor-service":
		if *port == 0 {
			*port = cfg.HTTP.Port
		}
		opts := floor.Options{Port: *port, Store: *store, Seed: *seed}
		if err := floor.Run(ctx, cfg, opts, logger.New("floor-service")); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "notification-subscriber":
		lg.Info("service_started", map[string]any{"service": "notification-subscriber"})
		if err := notificator.Start(ctx, cfg, logger.New("notification-subscriber")); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: floor-service | notification-subscriber")
		os.Exit(2)
	}
}
