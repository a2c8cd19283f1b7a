// Package config loads service configuration from the environment, an optional
// .env file and the YAML payment routing table.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Backend  BackendConfig
	Auth     AuthConfig
	Sync     SyncConfig
	Payments PaymentsConfig
	Logging  LoggingConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string   `env:"HTTP_ADDR,default=:8080"`
	PublicBaseURL  string   `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"` // semicolon separated
	RateLimitRPS   int      `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST,default=40"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is
	// honoured by the rate limiter. Semicolon separated.
	TrustedProxies  []string      `env:"TRUSTED_PROXIES"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	// AuditLogPath appends admin and cron calls as JSON lines when set.
	AuditLogPath string `env:"AUDIT_LOG_PATH"`
	AuditLogSize int    `env:"AUDIT_LOG_SIZE,default=200"`
}

// DatabaseConfig points at Postgres. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	Migrate         bool          `env:"DATABASE_MIGRATE,default=true"`
}

// RedisConfig points at the prediction cache. An empty URL selects the
// in-memory cache.
type RedisConfig struct {
	URL string        `env:"REDIS_URL"`
	TTL time.Duration `env:"PREDICTION_CACHE_TTL,default=6h"`
}

// BackendConfig addresses the consensus / prediction API.
type BackendConfig struct {
	URL            string        `env:"BACKEND_URL"`
	APIKey         string        `env:"BACKEND_API_KEY"`
	Timeout        time.Duration `env:"BACKEND_TIMEOUT,default=30s"`
	PredictTimeout time.Duration `env:"BACKEND_PREDICT_TIMEOUT,default=20s"`
}

// AuthConfig holds the secrets guarding admin and cron routes.
type AuthConfig struct {
	CronSecret     string        `env:"CRON_SECRET"`
	AdminJWTSecret string        `env:"ADMIN_JWT_SECRET"`
	AdminTokenTTL  time.Duration `env:"ADMIN_TOKEN_TTL,default=12h"`
}

// SyncConfig tunes the match and enrichment jobs.
type SyncConfig struct {
	MarketSchedule       string        `env:"SYNC_MARKET_SCHEDULE,default=@every 10m"`
	AvailabilitySchedule string        `env:"SYNC_AVAILABILITY_SCHEDULE,default=@every 30m"`
	MaxDuration          time.Duration `env:"SYNC_MAX_DURATION,default=270s"`
	FreshnessWindow      time.Duration `env:"SYNC_FRESHNESS_WINDOW,default=6h"`
	EnrichDelay          time.Duration `env:"SYNC_ENRICH_DELAY,default=300ms"`
	CreateDelay          time.Duration `env:"SYNC_CREATE_DELAY,default=500ms"`
	Limit                int           `env:"SYNC_LIMIT,default=0"`
	MarketLimit          int           `env:"SYNC_MARKET_LIMIT,default=100"`
	DefaultPrice         string        `env:"SYNC_DEFAULT_PRICE,default=9.99"`
	DefaultCurrency      string        `env:"SYNC_DEFAULT_CURRENCY,default=USD"`
	Enabled              bool          `env:"SYNC_SCHEDULER_ENABLED,default=true"`
}

// PaymentsConfig holds gateway credentials.
type PaymentsConfig struct {
	RoutingFile           string `env:"PAYMENT_ROUTING_FILE"`
	StripeSecretKey       string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL         string `env:"STRIPE_BASE_URL,default=https://api.stripe.com"`
	PesapalConsumerKey    string `env:"PESAPAL_CONSUMER_KEY"`
	PesapalConsumerSecret string `env:"PESAPAL_CONSUMER_SECRET"`
	PesapalBaseURL        string `env:"PESAPAL_BASE_URL,default=https://pay.pesapal.com/v3"`
	PesapalIPNID          string `env:"PESAPAL_IPN_ID"`
}

// LoggingConfig controls pkg/logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Load reads an optional .env file (missing files are ignored) and decodes
// the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	c.Sync.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Sync.DefaultCurrency))
	origins := c.Server.AllowedOrigins[:0]
	for _, origin := range c.Server.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.AllowedOrigins = origins
	proxies := c.Server.TrustedProxies[:0]
	for _, proxy := range c.Server.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	c.Server.TrustedProxies = proxies
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	var problems []string
	if c.Backend.URL == "" {
		problems = append(problems, "BACKEND_URL is required")
	}
	if c.Auth.CronSecret == "" && c.Auth.AdminJWTSecret == "" {
		problems = append(problems, "one of CRON_SECRET or ADMIN_JWT_SECRET is required")
	}
	if c.Sync.MaxDuration <= 0 {
		problems = append(problems, "SYNC_MAX_DURATION must be positive")
	}
	if c.Sync.FreshnessWindow <= 0 {
		problems = append(problems, "SYNC_FRESHNESS_WINDOW must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isNotExist(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, os.ErrNotExist)
	}
	return errors.Is(err, os.ErrNotExist)
}
