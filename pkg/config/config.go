package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the module reads.
	EnvPrefix = "orderflow"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Lock         LockConfig
	Payments     PaymentsConfig
	Consumer     ConsumerConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ORDERFLOW_DB_HOST"`
	Port     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	User     string `envconfig:"ORDERFLOW_DB_USER"`
	Password string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	Name     string `envconfig:"ORDERFLOW_DB_NAME"`
	SSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("database DSN or host/user/name are required")
	}
	d.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ORDERFLOW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_TOPIC" default:"orders"`
	PaymentsSubscription  string `envconfig:"ORDERFLOW_PUBSUB_PAYMENTS_SUBSCRIPTION" default:"payments.order-created"`
	InventorySubscription string `envconfig:"ORDERFLOW_PUBSUB_INVENTORY_SUBSCRIPTION" default:"inventory.order-created"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERFLOW_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERFLOW_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// LockConfig bounds the wait for lock acquisition and sets a lease long
// enough to outlive the critical section.
type LockConfig struct {
	AcquireTimeout time.Duration `envconfig:"ORDERFLOW_LOCK_ACQUIRE_TIMEOUT" default:"10s"`
	LeaseDuration  time.Duration `envconfig:"ORDERFLOW_LOCK_LEASE_DURATION" default:"30s"`
	RetryInterval  time.Duration `envconfig:"ORDERFLOW_LOCK_RETRY_INTERVAL" default:"100ms"`
}

type PaymentsConfig struct {
	CaptureLatency time.Duration `envconfig:"ORDERFLOW_PAYMENTS_CAPTURE_LATENCY" default:"1s"`
}

// ConsumerConfig sets explicit backpressure on Pub/Sub receive instead of
// leaning on client defaults.
type ConsumerConfig struct {
	MaxOutstandingMessages int `envconfig:"ORDERFLOW_CONSUMER_MAX_OUTSTANDING" default:"100"`
	NumGoroutines          int `envconfig:"ORDERFLOW_CONSUMER_GOROUTINES" default:"4"`
	// ProcessedTTL is how long a processed-event marker survives in redis.
	// It only needs to outlive the subscription's redelivery horizon.
	ProcessedTTL time.Duration `envconfig:"ORDERFLOW_CONSUMER_PROCESSED_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}
