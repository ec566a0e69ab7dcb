package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" default:"development"`
	StatusPort  string `envconfig:"SERVICE_STATUS_PORT" default:"8080"`
}

// Hub configures the upstream WebSocket connection and its supervisor
type Hub struct {
	URL                   string `envconfig:"HUB_WEBSOCKET_URL" required:"true"`
	AccessToken           string `envconfig:"HUB_ACCESS_TOKEN" required:"true"`
	HandshakeTimeoutSec   int    `envconfig:"HUB_HANDSHAKE_TIMEOUT_SEC" default:"10"`
	BackoffBaseMS         int    `envconfig:"HUB_BACKOFF_BASE_MS" default:"500"`
	BackoffMaxSec         int    `envconfig:"HUB_BACKOFF_MAX_SEC" default:"60"`
	CircuitThreshold      int    `envconfig:"HUB_CIRCUIT_THRESHOLD" default:"5"`
	CircuitCooldownSec    int    `envconfig:"HUB_CIRCUIT_COOLDOWN_SEC" default:"30"`
	CircuitCooldownMaxSec int    `envconfig:"HUB_CIRCUIT_COOLDOWN_MAX_SEC" default:"300"`
}

// Filter configures the entity include/exclude patterns
type Filter struct {
	IncludePatterns []string `envconfig:"FILTER_INCLUDE_PATTERNS"`
	ExcludePatterns []string `envconfig:"FILTER_EXCLUDE_PATTERNS"`
}

// Queue configures the bounded in-memory event queue
type Queue struct {
	MaxSize        int    `envconfig:"QUEUE_MAX_SIZE" default:"10000"`
	OverflowPolicy string `envconfig:"QUEUE_OVERFLOW_POLICY" default:"block"`
	PutTimeoutMS   int    `envconfig:"QUEUE_PUT_TIMEOUT_MS" default:"5000"`
}

// Batch configures the batch accumulator
type Batch struct {
	MaxSize    int `envconfig:"BATCH_MAX_SIZE" default:"500"`
	TimeoutSec int `envconfig:"BATCH_TIMEOUT_SEC" default:"10"`
}

// Writer configures the storage writer
type Writer struct {
	MaxRetries       int    `envconfig:"WRITER_MAX_RETRIES" default:"3"`
	BackoffBaseMS    int    `envconfig:"WRITER_BACKOFF_BASE_MS" default:"500"`
	Concurrency      int    `envconfig:"WRITER_CONCURRENCY" default:"4"`
	ShutdownGraceSec int    `envconfig:"WRITER_SHUTDOWN_GRACE_SEC" default:"10"`
	Measurement      string `envconfig:"WRITER_MEASUREMENT" default:"state_changed"`
}

// ClickHouse configures the time-series store connection
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port            string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	Database        string `envconfig:"CLICKHOUSE_DB" required:"true"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	DialTimeoutSec  int    `envconfig:"CLICKHOUSE_DIAL_TIMEOUT_SEC" default:"5"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Config struct {
	Service    Service
	Hub        Hub
	Filter     Filter
	Queue      Queue
	Batch      Batch
	Writer     Writer
	ClickHouse ClickHouse
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
