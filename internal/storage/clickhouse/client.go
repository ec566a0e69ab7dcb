package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/wtthornton/HomeIQ-sub012/internal/config"
)

// Client wraps the ClickHouse connection
type Client struct {
	connection driver.Conn
	config     *config.ClickHouse
	log        *zap.Logger
}

// NewClient opens the store connection and verifies it with a ping. The
// connection is tuned for the write path: a handful of pooled connections
// fed by batched inserts, compressed on the wire.
func NewClient(ctx context.Context, config *config.ClickHouse, log *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", config.Host, config.Port)

	log.Info("Connecting to ClickHouse",
		zap.String("addr", addr),
		zap.String("database", config.Database),
		zap.Bool("useTLS", config.UseTLS))

	var tlsConfig *tls.Config
	if config.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	opts := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.User,
			Password: config.Password,
		},
		// Batches are wide (one row per state change, attributes as JSON),
		// so LZ4 pays for itself on the insert path.
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		TLS:              tlsConfig,
		DialTimeout:      time.Duration(config.DialTimeoutSec) * time.Second,
		MaxOpenConns:     config.MaxOpenConns,
		MaxIdleConns:     config.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(config.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}

	connection, err := clickhouse.Open(opts)
	if err != nil {
		log.Error("Failed to connect to ClickHouse", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := connection.Ping(ctx); err != nil {
		log.Error("Failed to ping ClickHouse", zap.Error(err))
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ClickHouse connection established")

	return &Client{connection: connection, config: config, log: log}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.connection
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	c.log.Info("Closing ClickHouse connection")
	if err := c.connection.Close(); err != nil {
		c.log.Error("Error closing ClickHouse connection", zap.Error(err))
		return err
	}
	return nil
}
