package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all service settings, loaded from the environment. Tunables
// that encode product trade-offs (bridge TTL, cancellation retention, free
// quota) live here rather than as literals in the code that uses them.
type Config struct {
	Port     string `env:"REVERIE_PORT" envDefault:"8091"`
	DBPath   string `env:"REVERIE_DB_PATH" envDefault:"reverie-access.db"`
	BaseURL  string `env:"REVERIE_BASE_URL"`
	LogLevel string `env:"REVERIE_LOG_LEVEL" envDefault:"info"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	SubscriptionPriceID string `env:"STRIPE_SUBSCRIPTION_PRICE_ID"`
	DayPassPriceID      string `env:"STRIPE_DAYPASS_PRICE_ID"`
	SinglePriceID       string `env:"STRIPE_SINGLE_PRICE_ID"`

	// EmailHashSecret keys the one-way email hash. Rotating it orphans
	// every email-bound grant, so treat it like a database credential.
	EmailHashSecret string `env:"ACCESS_EMAIL_HASH_SECRET"`
	TokenSecret     string `env:"ACCESS_TOKEN_SECRET"`

	// BridgeTTL bounds how long the webhook-written bridging record lets
	// the client-confirm path skip a live processor query.
	BridgeTTL time.Duration `env:"ACCESS_BRIDGE_TTL" envDefault:"1h"`
	// CancelRetention bounds the cancellation side-record. It must stay
	// short relative to how quickly cancellations should take effect;
	// after it lapses the live processor check is consulted again.
	CancelRetention time.Duration `env:"ACCESS_CANCEL_RETENTION" envDefault:"168h"`

	FreeQuota  int           `env:"FREE_TIER_QUOTA" envDefault:"2"`
	FreeWindow time.Duration `env:"FREE_TIER_WINDOW" envDefault:"24h"`
}

// Load reads the .env file if present, then parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.Port)
	}
	return cfg, nil
}
