// Package main runs one sync pass from the command line, or issues an admin
// token for the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tipsterhub/service_layer/internal/app/runtime"
	"github.com/tipsterhub/service_layer/internal/app/services/enrichment"
	"github.com/tipsterhub/service_layer/internal/config"
	"github.com/tipsterhub/service_layer/internal/middleware"
)

func main() {
	envFile := flag.String("env", ".env", "Optional env file")
	job := flag.String("job", "availability", "Job to run: market, availability or plan")
	status := flag.String("status", "", "Market status filter for the market job (upcoming or live)")
	limit := flag.Int("limit", 0, "Maximum matches to process (0 uses SYNC_LIMIT)")
	dryRun := flag.Bool("dry-run", false, "Plan the availability pass without writing")
	maxDuration := flag.Duration("max-duration", 0, "Time budget for the availability pass")
	issueToken := flag.String("issue-admin-token", "", "Print an admin token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := runtime.NewLogger(cfg.Logging, "tipster-sync")

	if *issueToken != "" {
		auth := middleware.NewAuthMiddleware(middleware.AuthConfig{
			JWTSecret: cfg.Auth.AdminJWTSecret,
			TokenTTL:  cfg.Auth.AdminTokenTTL,
			Logger:    log,
		})
		token, expires, err := auth.IssueAdminToken(*issueToken)
		if err != nil {
			log.WithError(err).Fatal("Failed to issue admin token")
		}
		printJSON(map[string]interface{}{"token": token, "expiresAt": expires.UTC().Format(time.RFC3339)})
		return
	}

	cfg.Sync.Enabled = false
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}
	result, runErr := runJob(ctx, application, *job, *status, enrichment.Options{
		Limit:       *limit,
		DryRun:      *dryRun,
		MaxDuration: *maxDuration,
	})
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("Shutdown error")
	}
	if runErr != nil {
		log.WithError(runErr).WithField("job", *job).Error("Sync failed")
		os.Exit(1)
	}
	printJSON(result)
}

func runJob(ctx context.Context, application *runtime.Application, job, status string, opts enrichment.Options) (interface{}, error) {
	svc := application.App()
	if svc.Enrichment == nil {
		return nil, errors.New("BACKEND_URL is required for sync jobs")
	}
	switch job {
	case "market":
		return svc.Catalog.SyncMarketMatches(ctx, status)
	case "availability":
		return svc.Enrichment.SyncFromAvailability(ctx, opts)
	case "plan":
		return svc.Enrichment.Plan(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
