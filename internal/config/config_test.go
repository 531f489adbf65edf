package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("LICENSE_SWEEP_INTERVAL", "")
	t.Setenv("RATE_LIMIT_FINANCIAL_PATHS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 20, cfg.RateLimitFinancialRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 10000, cfg.RateLimitMaxEntries)
	assert.Equal(t, 6*time.Hour, cfg.LicenseSweepInterval)
	assert.Equal(t, 72*time.Hour, cfg.LicenseGracePeriod)
	assert.Equal(t, []string{"/finance", "/transactions"}, cfg.FinancialPaths)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("LICENSE_GRACE_PERIOD", "48h")
	t.Setenv("RATE_LIMIT_FINANCIAL_PATHS", " /money , /loans,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 48*time.Hour, cfg.LicenseGracePeriod)
	assert.Equal(t, []string{"/money", "/loans"}, cfg.FinancialPaths)
}

func TestLoad_TraceSampleRatio(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, cfg.TraceSampleRatio, 1e-9)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("LICENSE_SWEEP_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultLicenseSweepInterval, cfg.LicenseSweepInterval)
}

func TestLoad_ProductionRequiresAdminSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SECRET")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env:                        "development",
			RateLimitRequests:          100,
			RateLimitFinancialRequests: 20,
			RateLimitWindow:            time.Minute,
			RateLimitMaxEntries:        10000,
			LicenseSweepInterval:       time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero budget", func(c *Config) { c.RateLimitRequests = 0 }, true},
		{"zero financial budget", func(c *Config) { c.RateLimitFinancialRequests = 0 }, true},
		{"zero window", func(c *Config) { c.RateLimitWindow = 0 }, true},
		{"zero max entries", func(c *Config) { c.RateLimitMaxEntries = 0 }, true},
		{"zero sweep interval", func(c *Config) { c.LicenseSweepInterval = 0 }, true},
		{"negative grace", func(c *Config) { c.LicenseGracePeriod = -time.Hour }, true},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 1.5 }, true},
		{"partial sampling", func(c *Config) { c.TraceSampleRatio = 0.1 }, false},
		{"production with secret", func(c *Config) { c.Env = "production"; c.AdminSecret = "s" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.True(t, (&Config{Env: "production"}).IsProduction())
	assert.False(t, (&Config{Env: "staging"}).IsProduction())
}
