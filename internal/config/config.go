package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration and the entitlement catalog.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	// Billing provider credentials. The webhook secret signs inbound events,
	// the API key authorizes outbound calls.
	BillingAPIBase       string
	BillingAPIKey        string
	BillingWebhookSecret string
	BillingTimeout       time.Duration

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string

	SweepInterval    time.Duration
	SweepEnabled     bool
	AbandonedWindow  time.Duration
	SweepLockTTL     time.Duration
	SweepLockEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "entitled"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "entitled"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		BillingAPIBase:       getenv("BILLING_API_BASE", "https://api.stripe.com"),
		BillingAPIKey:        strings.TrimSpace(getenv("BILLING_API_KEY", "")),
		BillingWebhookSecret: strings.TrimSpace(getenv("BILLING_WEBHOOK_SECRET", "")),
		BillingTimeout:       getenvDuration("BILLING_TIMEOUT", 15*time.Second),

		CheckoutSuccessURL: getenv("CHECKOUT_SUCCESS_URL", "https://app.example.com/billing/success"),
		CheckoutCancelURL:  getenv("CHECKOUT_CANCEL_URL", "https://app.example.com/billing/cancel"),
		PortalReturnURL:    getenv("PORTAL_RETURN_URL", "https://app.example.com/account"),

		SweepInterval:    getenvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepEnabled:     getenvBool("SWEEP_ENABLED", true),
		AbandonedWindow:  getenvDuration("SWEEP_ABANDONED_WINDOW", 30*time.Minute),
		SweepLockTTL:     getenvDuration("SWEEP_LOCK_TTL", 4*time.Minute),
		SweepLockEnabled: getenvBool("SWEEP_LOCK_ENABLED", true),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}
