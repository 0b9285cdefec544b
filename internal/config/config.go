// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	LogLevel    string
	RunLocal    bool
	HTTPAddr    string

	AWS    AWSConfig
	Tables TablesConfig
	Queues QueuesConfig
	Redis  RedisConfig
	Cart   CartConfig

	IdempotencyTTL time.Duration
	// WorkerClaimLease bounds how long a worker's IN_PROGRESS claim blocks
	// redelivery of the same message.
	WorkerClaimLease time.Duration
	MetricsNamespace string
	SeedStatuses     bool
}

type AWSConfig struct {
	Region   string
	Endpoint string // AWS_ENDPOINT_OVERRIDE, e.g. LocalStack
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Orders           string
	Carts            string
	Products         string
	Counters         string
	OrderStatuses    string
	StatusActivities string
	Idempotency      string
}

type QueuesConfig struct {
	OrderEventsURL string
}

// RedisConfig configures the cart read cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CartConfig struct {
	CacheTTL   time.Duration
	MaxRetries int
}

var defaults = map[string]any{
	"APP_ENV":                       "development",
	"LOG_LEVEL":                     "info",
	"RUN_LOCAL":                     false,
	"HTTP_ADDR":                     ":8080",
	"AWS_REGION":                    "us-east-1",
	"AWS_ENDPOINT_OVERRIDE":         "",
	"ORDERS_TABLE":                  "orders",
	"CARTS_TABLE":                   "carts",
	"PRODUCTS_TABLE":                "products",
	"COUNTERS_TABLE":                "counters",
	"ORDER_STATUSES_TABLE":          "order_statuses",
	"ORDER_STATUS_ACTIVITIES_TABLE": "order_status_activities",
	"IDEMPOTENCY_TABLE":             "idempotency",
	"ORDER_EVENTS_QUEUE_URL":        "",
	"REDIS_ADDR":                    "",
	"REDIS_PASSWORD":                "",
	"REDIS_DB":                      0,
	"CART_CACHE_TTL":                "15m",
	"CART_MAX_RETRIES":              5,
	"IDEMPOTENCY_TTL":               "48h",
	"WORKER_CLAIM_LEASE":            "5m",
	"METRICS_NAMESPACE":             "RetailOrderflow",
	"SEED_STATUSES":                 true,
}

// Load reads configuration from environment variables, falling back to a .env
// file in the working directory (or its parents) and then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: strings.TrimSpace(v.GetString("APP_ENV")),
		LogLevel:    strings.TrimSpace(v.GetString("LOG_LEVEL")),
		RunLocal:    v.GetBool("RUN_LOCAL"),
		HTTPAddr:    strings.TrimSpace(v.GetString("HTTP_ADDR")),
		AWS: AWSConfig{
			Region:   strings.TrimSpace(v.GetString("AWS_REGION")),
			Endpoint: strings.TrimSpace(v.GetString("AWS_ENDPOINT_OVERRIDE")),
		},
		Tables: TablesConfig{
			Orders:           strings.TrimSpace(v.GetString("ORDERS_TABLE")),
			Carts:            strings.TrimSpace(v.GetString("CARTS_TABLE")),
			Products:         strings.TrimSpace(v.GetString("PRODUCTS_TABLE")),
			Counters:         strings.TrimSpace(v.GetString("COUNTERS_TABLE")),
			OrderStatuses:    strings.TrimSpace(v.GetString("ORDER_STATUSES_TABLE")),
			StatusActivities: strings.TrimSpace(v.GetString("ORDER_STATUS_ACTIVITIES_TABLE")),
			Idempotency:      strings.TrimSpace(v.GetString("IDEMPOTENCY_TABLE")),
		},
		Queues: QueuesConfig{
			OrderEventsURL: strings.TrimSpace(v.GetString("ORDER_EVENTS_QUEUE_URL")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cart: CartConfig{
			CacheTTL:   v.GetDuration("CART_CACHE_TTL"),
			MaxRetries: v.GetInt("CART_MAX_RETRIES"),
		},
		IdempotencyTTL:   v.GetDuration("IDEMPOTENCY_TTL"),
		WorkerClaimLease: v.GetDuration("WORKER_CLAIM_LEASE"),
		MetricsNamespace: strings.TrimSpace(v.GetString("METRICS_NAMESPACE")),
		SeedStatuses:     v.GetBool("SEED_STATUSES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	tables := map[string]string{
		"ORDERS_TABLE":                  c.Tables.Orders,
		"CARTS_TABLE":                   c.Tables.Carts,
		"PRODUCTS_TABLE":                c.Tables.Products,
		"COUNTERS_TABLE":                c.Tables.Counters,
		"ORDER_STATUSES_TABLE":          c.Tables.OrderStatuses,
		"ORDER_STATUS_ACTIVITIES_TABLE": c.Tables.StatusActivities,
		"IDEMPOTENCY_TABLE":             c.Tables.Idempotency,
	}
	for _, key := range []string{
		"ORDERS_TABLE", "CARTS_TABLE", "PRODUCTS_TABLE", "COUNTERS_TABLE",
		"ORDER_STATUSES_TABLE", "ORDER_STATUS_ACTIVITIES_TABLE", "IDEMPOTENCY_TABLE",
	} {
		if tables[key] == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if c.Cart.MaxRetries < 1 {
		return fmt.Errorf("CART_MAX_RETRIES must be at least 1, got %d", c.Cart.MaxRetries)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.WorkerClaimLease <= 0 || c.WorkerClaimLease > c.IdempotencyTTL {
		return fmt.Errorf("WORKER_CLAIM_LEASE must be positive and at most IDEMPOTENCY_TTL, got %s", c.WorkerClaimLease)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
