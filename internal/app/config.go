package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOOZY_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOOZY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Kafka       KafkaConfig
	Shipping    ShippingConfig
	Outbox      OutboxConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// KafkaConfig controls domain event publishing. With no brokers configured,
// events are written to the application log instead.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses; empty disables publishing"`
	Topic   string   `default:"storefront.events" usage:"Topic for domain events"`
}

// ShippingConfig controls the carrier fee quotation client. With no base URL
// configured, a flat fallback fee is quoted instead.
type ShippingConfig struct {
	BaseURL     string          `usage:"Carrier API base URL; empty uses the flat fallback fee" flag:"shipping-base-url"`
	Token       string          `usage:"Carrier API token" flag:"shipping-token"`
	ShopID      string          `usage:"Carrier shop identifier" flag:"shipping-shop-id"`
	FallbackFee decimal.Decimal `default:"30000" usage:"Flat fee quoted when no carrier is configured" flag:"shipping-fallback-fee"`
	Timeout     time.Duration   `default:"5s" usage:"Carrier request timeout" flag:"shipping-timeout"`
}

// OutboxConfig controls the event relay.
type OutboxConfig struct {
	Interval  time.Duration `default:"2s" usage:"Relay polling interval" flag:"outbox-interval"`
	BatchSize int           `default:"100" usage:"Events delivered per relay batch" flag:"outbox-batch-size"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOOZY",
		Files:     []string{"config.yaml", "/etc/shoozy/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOOZY_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the application's SHOOZY_
// prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
