// Package main runs the tipster API server with its background sync jobs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tipsterhub/service_layer/internal/app/runtime"
	"github.com/tipsterhub/service_layer/internal/config"
)

func main() {
	envFile := flag.String("env", ".env", "Optional env file")
	addr := flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	noScheduler := flag.Bool("no-scheduler", false, "Disable the background sync jobs")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		runtime.NewLogger(config.LoggingConfig{}, "tipster").WithError(err).Fatal("Failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *noScheduler {
		cfg.Sync.Enabled = false
	}

	log := runtime.NewLogger(cfg.Logging, "tipster")
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("Server stopped with error")
	}

	log.Info("Shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("Shutdown error")
	}
	if runErr != nil {
		os.Exit(1)
	}
}
