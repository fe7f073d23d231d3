// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/workbridge/paycore/internal/security"
)

// GatewayConfig holds the credentials and endpoint for one payment provider.
// A provider with no credentials configured is simply not registered.
type GatewayConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment settings, all amounts in minor units
	FeeBps           int64 // platform fee in basis points
	MinPaymentMinor  int64
	MaxPaymentMinor  int64
	DefaultCurrency  string
	ReleaseInterval  int64 // seconds between release batch runs, 0 = default
	ReleaseBatchSize int

	// Card / PSP gateways
	Stripe   GatewayConfig
	Adyen    GatewayConfig
	PayPal   GatewayConfig
	Paystack GatewayConfig
	Razorpay GatewayConfig

	// USDC settlement rail
	USDCRPCURL        string
	USDCPrivateKey    string // Hex-encoded, no 0x prefix
	USDCContract      string
	USDCWatcherSecret string // shared secret with the chain watcher

	// Platform wallet rail
	WalletSecret string

	// Staffing system (assignment lookups)
	AssignmentsURL   string
	AssignmentsToken string

	// Operational alerts
	AlertNotifyURL    string
	AlertNotifySecret string

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultFeeBps          = 1000 // 10%
	DefaultMinPaymentMinor = 100
	DefaultMaxPaymentMinor = 1_000_000
	DefaultCurrency        = "USD"
	DefaultRateLimit       = 100

	DefaultStripeURL   = "https://api.stripe.com/v1"
	DefaultAdyenURL    = "https://checkout-test.adyen.com/v71"
	DefaultPayPalURL   = "https://api-m.sandbox.paypal.com"
	DefaultPaystackURL = "https://api.paystack.co"
	DefaultRazorpayURL = "https://api.razorpay.com/v1"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", DefaultPort),
		Env:       getEnv("ENV", DefaultEnv),
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat: getEnv("LOG_FORMAT", DefaultLogFormat),

		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		FeeBps:           getEnvInt64("FEE_BPS", DefaultFeeBps),
		MinPaymentMinor:  getEnvInt64("MIN_PAYMENT_MINOR", DefaultMinPaymentMinor),
		MaxPaymentMinor:  getEnvInt64("MAX_PAYMENT_MINOR", DefaultMaxPaymentMinor),
		DefaultCurrency:  getEnv("DEFAULT_CURRENCY", DefaultCurrency),
		ReleaseInterval:  getEnvInt64("RELEASE_INTERVAL_SECONDS", 0),
		ReleaseBatchSize: int(getEnvInt64("RELEASE_BATCH_SIZE", 0)),

		Stripe: GatewayConfig{
			BaseURL:       getEnv("STRIPE_BASE_URL", DefaultStripeURL),
			APIKey:        os.Getenv("STRIPE_API_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		Adyen: GatewayConfig{
			BaseURL:       getEnv("ADYEN_BASE_URL", DefaultAdyenURL),
			APIKey:        os.Getenv("ADYEN_API_KEY"),
			WebhookSecret: os.Getenv("ADYEN_HMAC_KEY"),
		},
		PayPal: GatewayConfig{
			BaseURL:       getEnv("PAYPAL_BASE_URL", DefaultPayPalURL),
			APIKey:        os.Getenv("PAYPAL_API_KEY"),
			WebhookSecret: os.Getenv("PAYPAL_WEBHOOK_SECRET"),
		},
		Paystack: GatewayConfig{
			BaseURL:       getEnv("PAYSTACK_BASE_URL", DefaultPaystackURL),
			APIKey:        os.Getenv("PAYSTACK_SECRET_KEY"),
			WebhookSecret: os.Getenv("PAYSTACK_SECRET_KEY"), // Paystack signs with the API secret
		},
		Razorpay: GatewayConfig{
			BaseURL:       getEnv("RAZORPAY_BASE_URL", DefaultRazorpayURL),
			APIKey:        os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		},

		USDCRPCURL:        os.Getenv("USDC_RPC_URL"),
		USDCPrivateKey:    os.Getenv("USDC_PRIVATE_KEY"),
		USDCContract:      os.Getenv("USDC_CONTRACT"),
		USDCWatcherSecret: os.Getenv("USDC_WATCHER_SECRET"),

		WalletSecret: os.Getenv("WALLET_SECRET"),

		AssignmentsURL:   os.Getenv("ASSIGNMENTS_URL"),
		AssignmentsToken: os.Getenv("ASSIGNMENTS_TOKEN"),

		AlertNotifyURL:    os.Getenv("ALERT_NOTIFY_URL"),
		AlertNotifySecret: os.Getenv("ALERT_NOTIFY_SECRET"),

		AdminSecret:  os.Getenv("ADMIN_SECRET"),
		RateLimitRPS: int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.FeeBps < 0 || c.FeeBps > 10000 {
		return fmt.Errorf("FEE_BPS must be between 0 and 10000, got %d", c.FeeBps)
	}
	if c.MinPaymentMinor <= 0 {
		return fmt.Errorf("MIN_PAYMENT_MINOR must be positive, got %d", c.MinPaymentMinor)
	}
	if c.MaxPaymentMinor < c.MinPaymentMinor {
		return fmt.Errorf("MAX_PAYMENT_MINOR (%d) must be >= MIN_PAYMENT_MINOR (%d)",
			c.MaxPaymentMinor, c.MinPaymentMinor)
	}

	if c.USDCRPCURL != "" {
		key := c.USDCPrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("USDC_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.USDCContract == "" {
			return fmt.Errorf("USDC_CONTRACT is required when USDC_RPC_URL is set")
		}
	}

	// The notify URL is where alert JSON gets POSTed from inside the
	// network, so outside development it must not point back at
	// loopback or private ranges.
	if c.AlertNotifyURL != "" && !c.IsDevelopment() {
		if err := security.ValidateEndpointURL(c.AlertNotifyURL); err != nil {
			return fmt.Errorf("ALERT_NOTIFY_URL: %w", err)
		}
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	return nil
}

// GatewayConfigured reports whether a provider has credentials set.
func (g GatewayConfig) Configured() bool {
	return g.APIKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
