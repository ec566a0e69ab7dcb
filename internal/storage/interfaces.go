package storage

import (
	"context"
	"time"
)

// Point is a single time-series datapoint derived from an event
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Timestamp   time.Time
}

// PointWriter defines the interface for time-series storage operations
type PointWriter interface {
	// WritePoints writes all points in a single call. Partial writes are
	// not reported; the call either succeeds or fails as a whole.
	WritePoints(ctx context.Context, points []Point) error

	// InitSchema initializes the storage schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the storage connection is alive
	Ping(ctx context.Context) error

	// Close closes the writer and releases resources
	Close() error
}
