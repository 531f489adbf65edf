// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	AdminSecret  string // Operator API secret (X-Admin-Secret)
	ServiceToken string // Shared secret the bot and dashboard present with X-Caller-ID
	CORSOrigins  []string

	// Billing
	StripeWebhookSecret string
	StripePricePro      string // Stripe price ID that maps to the PRO tier
	StripePricePremium  string // Stripe price ID that maps to the PREMIUM tier

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Rate limiting
	RateLimitRequests          int
	RateLimitFinancialRequests int
	RateLimitWindow            time.Duration
	RateLimitMaxEntries        int
	FinancialPaths             []string

	// License lifecycle
	LicenseSweepInterval time.Duration
	LicenseSweepDelay    time.Duration
	LicenseGracePeriod   time.Duration

	// Feature flags
	FlagCacheTTL time.Duration // 0 disables the read cache
}

const (
	DefaultPort                       = "8080"
	DefaultEnv                        = "development"
	DefaultLogLevel                   = "info"
	DefaultLogFormat                  = "text"
	DefaultRateLimitRequests          = 100
	DefaultRateLimitFinancialRequests = 20
	DefaultRateLimitWindow            = 60 * time.Second
	DefaultRateLimitMaxEntries        = 10000
	DefaultLicenseSweepInterval       = 6 * time.Hour
	DefaultLicenseSweepDelay          = 10 * time.Second
	DefaultLicenseGracePeriod         = 3 * 24 * time.Hour
	DefaultFlagCacheTTL               = 5 * time.Second
	DefaultTraceSampleRatio           = 1.0
)

// DefaultFinancialPaths are the path fragments that select the stricter
// financial rate budget.
var DefaultFinancialPaths = []string{"/finance", "/transactions"}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                       getEnv("PORT", DefaultPort),
		Env:                        getEnv("ENV", DefaultEnv),
		LogLevel:                   getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                  getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		AdminSecret:                os.Getenv("ADMIN_SECRET"),
		ServiceToken:               os.Getenv("SERVICE_TOKEN"),
		CORSOrigins:                getEnvList("CORS_ALLOWED_ORIGINS", nil),
		StripeWebhookSecret:        os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePricePro:             os.Getenv("STRIPE_PRICE_PRO"),
		StripePricePremium:         os.Getenv("STRIPE_PRICE_PREMIUM"),
		OTLPEndpoint:               os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:           getEnvFloat("TRACE_SAMPLE_RATIO", DefaultTraceSampleRatio),
		RateLimitRequests:          int(getEnvInt64("RATE_LIMIT_REQUESTS", DefaultRateLimitRequests)),
		RateLimitFinancialRequests: int(getEnvInt64("RATE_LIMIT_FINANCIAL_REQUESTS", DefaultRateLimitFinancialRequests)),
		RateLimitWindow:            getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitMaxEntries:        int(getEnvInt64("RATE_LIMIT_MAX_ENTRIES", DefaultRateLimitMaxEntries)),
		FinancialPaths:             getEnvList("RATE_LIMIT_FINANCIAL_PATHS", DefaultFinancialPaths),
		LicenseSweepInterval:       getEnvDuration("LICENSE_SWEEP_INTERVAL", DefaultLicenseSweepInterval),
		LicenseSweepDelay:          getEnvDuration("LICENSE_SWEEP_DELAY", DefaultLicenseSweepDelay),
		LicenseGracePeriod:         getEnvDuration("LICENSE_GRACE_PERIOD", DefaultLicenseGracePeriod),
		FlagCacheTTL:               getEnvDuration("FLAG_CACHE_TTL", DefaultFlagCacheTTL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitFinancialRequests <= 0 {
		return fmt.Errorf("rate limit budgets must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitMaxEntries <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_ENTRIES must be positive")
	}
	if c.LicenseSweepInterval <= 0 {
		return fmt.Errorf("LICENSE_SWEEP_INTERVAL must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.LicenseSweepDelay < 0 || c.LicenseGracePeriod < 0 || c.FlagCacheTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
