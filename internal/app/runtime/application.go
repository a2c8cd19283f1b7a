// Package runtime builds the service from configuration and runs its HTTP
// server next to the background sync jobs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/tipsterhub/service_layer/internal/app"
	"github.com/tipsterhub/service_layer/internal/app/httpapi"
	"github.com/tipsterhub/service_layer/internal/app/storage/postgres"
	"github.com/tipsterhub/service_layer/internal/cache"
	"github.com/tipsterhub/service_layer/internal/config"
	"github.com/tipsterhub/service_layer/internal/consensus"
	"github.com/tipsterhub/service_layer/internal/middleware"
	"github.com/tipsterhub/service_layer/internal/payment"
	"github.com/tipsterhub/service_layer/internal/platform/migrations"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

const cachePrefix = "tipster:"

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	auth    *middleware.AuthMiddleware
	audit   *httpapi.AuditLog
	limiter *middleware.RateLimiter
	server  *httpServer
	db      *sqlx.DB
	redis   *cache.Redis

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig, component string) *logger.Logger {
	return logger.New(logger.LoggingConfig{
		Level:     cfg.Level,
		Format:    cfg.Format,
		Output:    os.Stdout,
		Component: component,
	})
}

// NewApplication constructs the application from cfg. Postgres and Redis
// are optional; without them the in-memory store and cache are used.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = NewLogger(cfg.Logging, "tipster")
	}
	a := &Application{cfg: cfg, log: log, stopCleanup: make(chan struct{})}

	stores, err := a.buildStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	deps, err := a.buildDependencies(ctx)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.app, err = app.New(stores, deps, log.Named("app"))
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.auth = middleware.NewAuthMiddleware(middleware.AuthConfig{
		JWTSecret:  cfg.Auth.AdminJWTSecret,
		CronSecret: cfg.Auth.CronSecret,
		TokenTTL:   cfg.Auth.AdminTokenTTL,
		Logger:     log.Named("auth"),
	})
	if a.audit, err = httpapi.NewAuditLog(cfg.Server.AuditLogSize, cfg.Server.AuditLogPath, log.Named("audit")); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if cfg.Server.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log.Named("ratelimit"))
		if err := a.limiter.TrustProxies(cfg.Server.TrustedProxies); err != nil {
			a.closeResources()
			return nil, err
		}
	}

	handler := httpapi.NewHandler(a.app, httpapi.Options{
		Auth:           a.auth,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    a.limiter,
		Audit:          a.audit,
		Log:            log.Named("http"),
	})
	a.server = newHTTPServer(cfg.Server.Addr, handler, log.Named("http"))
	if err := a.app.Register(a.server); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

// App exposes the wired services, for one-shot commands.
func (a *Application) App() *app.Application { return a.app }

// Auth exposes the admin token issuer.
func (a *Application) Auth() *middleware.AuthMiddleware { return a.auth }

// Handler returns the HTTP handler served by Run.
func (a *Application) Handler() http.Handler { return a.server.srv.Handler }

// Run starts the HTTP server and background jobs and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(time.Minute, a.stopCleanup)
	}
	a.log.WithField("addr", a.server.Addr()).Info("HTTP server listening")

	select {
	case <-ctx.Done():
		return nil
	case err := <-a.server.errCh:
		return err
	}
}

// Shutdown stops the server and jobs, then releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := a.app.Stop(shutdownCtx)
	a.closeResources()
	return err
}

func (a *Application) closeResources() {
	a.closeOnce.Do(func() {
		close(a.stopCleanup)
		if a.audit != nil {
			if err := a.audit.Close(); err != nil {
				a.log.WithError(err).Warn("error closing audit log")
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.log.WithError(err).Warn("error closing redis connection")
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.log.WithError(err).Warn("error closing database connection")
			}
		}
	})
}

func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	if a.cfg.Database.URL == "" {
		a.log.Warn("DATABASE_URL not set; using in-memory store")
		return app.Stores{}, nil
	}
	db, err := openDatabase(ctx, a.cfg.Database)
	if err != nil {
		return app.Stores{}, err
	}
	if a.cfg.Database.Migrate {
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return app.Stores{}, fmt.Errorf("apply migrations: %w", err)
		}
	}
	a.db = db
	store := postgres.New(db)
	return app.Stores{Matches: store, Quick: store, Blog: store, Purchases: store}, nil
}

func (a *Application) buildDependencies(ctx context.Context) (app.Dependencies, error) {
	cfg := a.cfg
	deps := app.Dependencies{CacheTTL: cfg.Redis.TTL, Sync: cfg.Sync}

	if cfg.Backend.URL != "" {
		client, err := consensus.New(consensus.Config{
			BaseURL:        cfg.Backend.URL,
			APIKey:         cfg.Backend.APIKey,
			Timeout:        cfg.Backend.Timeout,
			PredictTimeout: cfg.Backend.PredictTimeout,
		})
		if err != nil {
			return deps, err
		}
		deps.Backend = client
	}

	if cfg.Redis.URL != "" {
		redisCache, err := cache.DialRedis(ctx, cfg.Redis.URL, cachePrefix)
		if err != nil {
			return deps, err
		}
		a.redis = redisCache
		deps.Cache = redisCache
	}

	routing, err := config.LoadPaymentRoutingOrDefault(cfg.Payments.RoutingFile)
	if err != nil {
		return deps, err
	}
	deps.Routing = routing

	base := cfg.Server.PublicBaseURL
	stripe := payment.NewStripe(payment.StripeConfig{
		SecretKey:     cfg.Payments.StripeSecretKey,
		WebhookSecret: cfg.Payments.StripeWebhookSecret,
		BaseURL:       cfg.Payments.StripeBaseURL,
		SuccessURL:    base + "/payment/success",
		CancelURL:     base + "/payment/cancelled",
	})
	pesapal := payment.NewPesapal(payment.PesapalConfig{
		ConsumerKey:    cfg.Payments.PesapalConsumerKey,
		ConsumerSecret: cfg.Payments.PesapalConsumerSecret,
		BaseURL:        cfg.Payments.PesapalBaseURL,
		IPNID:          cfg.Payments.PesapalIPNID,
		CallbackURL:    base + "/payment/complete",
	})
	deps.Gateways = []payment.Gateway{stripe, pesapal}
	if stripe != nil && cfg.Payments.StripeWebhookSecret != "" {
		deps.Stripe = stripe
	}
	return deps, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
