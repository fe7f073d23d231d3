package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, int64(DefaultFeeBps), cfg.FeeBps)
	assert.Equal(t, int64(DefaultMinPaymentMinor), cfg.MinPaymentMinor)
	assert.Equal(t, int64(DefaultMaxPaymentMinor), cfg.MaxPaymentMinor)
	assert.Equal(t, DefaultStripeURL, cfg.Stripe.BaseURL)
	assert.False(t, cfg.Stripe.Configured())
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "FEE_BPS", "500")
	setEnv(t, "STRIPE_API_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(500), cfg.FeeBps)
	assert.True(t, cfg.Stripe.Configured())
	assert.Equal(t, "whsec_123", cfg.Stripe.WebhookSecret)
}

func TestLoad_USDCRequiresKeyAndContract(t *testing.T) {
	setEnv(t, "USDC_RPC_URL", "https://sepolia.base.org")
	setEnv(t, "USDC_PRIVATE_KEY", "tooshort")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		FeeBps:          1000,
		MinPaymentMinor: 100,
		MaxPaymentMinor: 1_000_000,
		LogFormat:       "json",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "fee out of range",
			mutate:  func(c *Config) { c.FeeBps = 20000 },
			wantErr: "FEE_BPS",
		},
		{
			name:    "non-positive minimum",
			mutate:  func(c *Config) { c.MinPaymentMinor = 0 },
			wantErr: "MIN_PAYMENT_MINOR",
		},
		{
			name: "max below min",
			mutate: func(c *Config) {
				c.MinPaymentMinor = 1000
				c.MaxPaymentMinor = 100
			},
			wantErr: "MAX_PAYMENT_MINOR",
		},
		{
			name: "usdc rail without contract",
			mutate: func(c *Config) {
				c.USDCRPCURL = "https://sepolia.base.org"
				c.USDCPrivateKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
			},
			wantErr: "USDC_CONTRACT",
		},
		{
			name: "usdc key with 0x prefix is accepted",
			mutate: func(c *Config) {
				c.USDCRPCURL = "https://sepolia.base.org"
				c.USDCPrivateKey = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
				c.USDCContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
			},
			wantErr: "",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "yaml" },
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestLoad_NotifyURLBlockedOutsideDev(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ALERT_NOTIFY_URL", "http://169.254.169.254/hook")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ALERT_NOTIFY_URL")
}

func TestLoad_NotifyURLLoopbackAllowedInDev(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "ALERT_NOTIFY_URL", "http://localhost:9999/hook")

	_, err := Load()
	assert.NoError(t, err)
}
