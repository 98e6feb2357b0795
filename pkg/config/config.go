package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "drouple"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App    AppConfig
	Store  StoreConfig
	Remote RemoteConfig
	Outbox OutboxConfig
	Sync   SyncConfig
	Status StatusConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DROUPLE_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"DROUPLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DROUPLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StoreConfig describes the on-device SQLite store.
type StoreConfig struct {
	Path        string        `envconfig:"DROUPLE_STORE_PATH" default:"drouple.db"`
	BusyTimeout time.Duration `envconfig:"DROUPLE_STORE_BUSY_TIMEOUT" default:"5s"`
}

// RemoteConfig describes the remote HTTP service this device syncs with.
type RemoteConfig struct {
	BaseURL string        `envconfig:"DROUPLE_REMOTE_BASE_URL" required:"true"`
	Token   string        `envconfig:"DROUPLE_REMOTE_TOKEN"`
	Timeout time.Duration `envconfig:"DROUPLE_REMOTE_TIMEOUT" default:"15s"`
}

type OutboxConfig struct {
	BatchSize     int           `envconfig:"DROUPLE_OUTBOX_BATCH_SIZE" default:"10"`
	MaxAttempts   int           `envconfig:"DROUPLE_OUTBOX_MAX_ATTEMPTS" default:"5"`
	BaseBackoff   time.Duration `envconfig:"DROUPLE_OUTBOX_BASE_BACKOFF" default:"1s"`
	RetentionDays int           `envconfig:"DROUPLE_OUTBOX_RETENTION_DAYS" default:"7"`
}

type SyncConfig struct {
	Interval     time.Duration `envconfig:"DROUPLE_SYNC_INTERVAL" default:"30m"`
	StartPaused  bool          `envconfig:"DROUPLE_SYNC_START_PAUSED" default:"false"`
	TenantID     string        `envconfig:"DROUPLE_SYNC_TENANT_ID"`
	ChurchID     string        `envconfig:"DROUPLE_SYNC_CHURCH_ID"`
	AssumeOnline bool          `envconfig:"DROUPLE_SYNC_ASSUME_ONLINE" default:"true"`
}

// StatusConfig configures the local inspection listener (/healthz,
// /syncz, /metrics).
type StatusConfig struct {
	Port string `envconfig:"DROUPLE_STATUS_PORT" default:"8099"`
}
