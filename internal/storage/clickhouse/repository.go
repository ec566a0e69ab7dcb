package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/storage"
)

// Repository implements storage.PointWriter for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the state_changes table if it does not exist
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS state_changes (
		measurement LowCardinality(String),
		entity_id String,
		domain LowCardinality(String),
		state String,
		previous_state String,
		attributes String,
		timestamp DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (entity_id, timestamp)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create state_changes table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// WritePoints inserts all points in a single prepared batch. The insert
// succeeds or fails as a whole; callers own retry policy.
func (r *Repository) WritePoints(ctx context.Context, points []storage.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO state_changes")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, point := range points {
		state, _ := point.Fields["state"].(string)
		previousState, _ := point.Fields["previous_state"].(string)

		attributesJSON, err := encodeAttributes(point.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}

		if err := batch.Append(
			point.Measurement,
			point.Tags["entity_id"],
			point.Tags["domain"],
			state,
			previousState,
			attributesJSON,
			point.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append point to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// encodeAttributes serializes every field except the dedicated state
// columns into a JSON document.
func encodeAttributes(fields map[string]any) (string, error) {
	attributes := make(map[string]any, len(fields))
	for key, value := range fields {
		if key == "state" || key == "previous_state" {
			continue
		}
		attributes[key] = value
	}

	if len(attributes) == 0 {
		return "{}", nil
	}

	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}
