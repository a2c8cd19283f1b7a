package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/app/services/blog"
	"github.com/tipsterhub/service_layer/internal/app/services/catalog"
	"github.com/tipsterhub/service_layer/internal/app/services/enrichment"
	"github.com/tipsterhub/service_layer/internal/app/services/purchase"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	"github.com/tipsterhub/service_layer/internal/app/storage/memory"
	"github.com/tipsterhub/service_layer/internal/app/system"
	"github.com/tipsterhub/service_layer/internal/cache"
	"github.com/tipsterhub/service_layer/internal/config"
	"github.com/tipsterhub/service_layer/internal/payment"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Matches   storage.MarketMatchStore
	Quick     storage.QuickPurchaseStore
	Blog      storage.BlogStore
	Purchases storage.PurchaseStore
}

// Backend is the consensus API as used by the sync jobs.
type Backend interface {
	catalog.MarketSource
	enrichment.Backend
}

// WebhookVerifier authenticates Stripe webhook deliveries.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (payment.WebhookEvent, error)
}

// Dependencies are the external systems the application talks to. A nil
// Backend disables syncing; a nil Cache uses process memory.
type Dependencies struct {
	Backend  Backend
	Cache    cache.Cache
	CacheTTL time.Duration
	Gateways []payment.Gateway
	Routing  *config.PaymentRouting
	Stripe   WebhookVerifier
	Sync     config.SyncConfig
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog    *catalog.Service
	Blog       *blog.Service
	Enrichment *enrichment.Service
	Purchases  *purchase.Service
	Payments   *payment.Selector
	Scheduler  *enrichment.Scheduler
	// StripeWebhooks is nil when no webhook secret is configured.
	StripeWebhooks WebhookVerifier
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, deps Dependencies, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Matches == nil {
		stores.Matches = mem
	}
	if stores.Quick == nil {
		stores.Quick = mem
	}
	if stores.Blog == nil {
		stores.Blog = mem
	}
	if stores.Purchases == nil {
		stores.Purchases = mem
	}

	defaultPrice := decimal.Zero
	if deps.Sync.DefaultPrice != "" {
		p, err := decimal.NewFromString(deps.Sync.DefaultPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid default price %q: %w", deps.Sync.DefaultPrice, err)
		}
		defaultPrice = p
	}

	selector := payment.NewSelector(deps.Routing, deps.Gateways...)

	catalogService := catalog.New(stores.Matches, stores.Quick, log.Named("catalog"))
	blogService := blog.New(stores.Blog, log.Named("blog"))
	purchaseService := purchase.New(stores.Purchases, stores.Quick, selector, log.Named("purchase"))

	application := &Application{
		manager:        system.NewManager(log.Named("system")),
		log:            log,
		Catalog:        catalogService,
		Blog:           blogService,
		Purchases:      purchaseService,
		Payments:       selector,
		StripeWebhooks: deps.Stripe,
	}

	if deps.Backend == nil {
		log.Warn("consensus backend not configured; sync endpoints and jobs disabled")
		return application, nil
	}

	catalogService.WithMarketSource(deps.Backend, deps.Sync.MarketLimit)
	application.Enrichment = enrichment.New(stores.Matches, stores.Quick, deps.Backend, deps.Cache, enrichment.Config{
		FreshnessWindow: deps.Sync.FreshnessWindow,
		EnrichDelay:     deps.Sync.EnrichDelay,
		CreateDelay:     deps.Sync.CreateDelay,
		MaxDuration:     deps.Sync.MaxDuration,
		CacheTTL:        deps.CacheTTL,
		Limit:           deps.Sync.Limit,
		DefaultPrice:    defaultPrice,
		DefaultCurrency: deps.Sync.DefaultCurrency,
	}, log.Named("enrichment"))

	if deps.Sync.Enabled {
		application.Scheduler = enrichment.NewScheduler(log.Named("scheduler"),
			enrichment.Job{
				Name:     "market",
				Schedule: deps.Sync.MarketSchedule,
				Timeout:  deps.Sync.MaxDuration,
				Run: func(ctx context.Context) error {
					_, err := catalogService.SyncMarketMatches(ctx, "")
					return err
				},
			},
			enrichment.Job{
				Name:     "availability",
				Schedule: deps.Sync.AvailabilitySchedule,
				Timeout:  deps.Sync.MaxDuration + 30*time.Second,
				Run: func(ctx context.Context) error {
					_, err := application.Enrichment.SyncFromAvailability(ctx, enrichment.Options{})
					if enrichment.IsSyncRunning(err) {
						return nil
					}
					return err
				},
			},
		)
		if err := application.manager.Register(application.Scheduler); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	}

	return application, nil
}

// Register adds a lifecycle-managed service, for example the HTTP server.
func (a *Application) Register(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start starts all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists registered service names.
func (a *Application) Services() []string {
	return a.manager.Services()
}
