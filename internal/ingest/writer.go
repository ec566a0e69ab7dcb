package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
	"github.com/wtthornton/HomeIQ-sub012/internal/storage"
)

// WriterConfig configures the storage writer
type WriterConfig struct {
	Measurement string
	MaxRetries  int
	BackoffBase time.Duration
	Concurrency int64
}

// Writer converts sealed batches into points and writes them to the
// time-series store. Each batch is written whole; on failure the entire
// batch is retried with exponential backoff and dropped once the retry
// budget is exhausted. A semaphore bounds concurrent writes so a slow
// store cannot fan out retries without limit.
type Writer struct {
	store  storage.PointWriter
	config WriterConfig
	sem    *semaphore.Weighted
	stats  *stats.Pipeline
	log    *zap.Logger
}

// NewWriter creates a new storage writer
func NewWriter(store storage.PointWriter, config WriterConfig, st *stats.Pipeline, log *zap.Logger) *Writer {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	return &Writer{
		store:  store,
		config: config,
		sem:    semaphore.NewWeighted(config.Concurrency),
		stats:  st,
		log:    log,
	}
}

// Start consumes sealed batches until the channel is closed and all
// in-flight writes have finished. The context bounds retries and backoff
// sleeps; the caller keeps it alive through the shutdown grace period so
// the final batch can still be flushed.
func (w *Writer) Start(ctx context.Context, in <-chan domain.Batch) {
	var wg sync.WaitGroup

	for batch := range in {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.log.Error("Writer cancelled while waiting for a slot, dropping batch",
				zap.String("batch_id", batch.ID),
				zap.Int("event_count", len(batch.Events)))
			w.stats.IncWritesFailed()
			continue
		}

		wg.Add(1)
		go func(b domain.Batch) {
			defer wg.Done()
			defer w.sem.Release(1)
			w.writeBatch(ctx, b)
		}(batch)
	}

	wg.Wait()
	w.log.Info("Writer drained")
}

// writeBatch performs the bounded-retry write of a single batch
func (w *Writer) writeBatch(ctx context.Context, batch domain.Batch) {
	points := toPoints(w.config.Measurement, batch)
	delay := w.config.BackoffBase

	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				w.stats.IncWritesFailed()
				w.log.Error("Write abandoned during backoff",
					zap.String("batch_id", batch.ID),
					zap.Int("event_count", len(batch.Events)))
				return
			}
			delay *= 2
		}

		err := w.store.WritePoints(ctx, points)
		if err == nil {
			w.stats.IncWritesSucceeded()
			w.log.Info("Wrote batch",
				zap.String("batch_id", batch.ID),
				zap.Int("point_count", len(points)),
				zap.Int("attempt", attempt))
			return
		}

		w.log.Warn("Batch write failed",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", w.config.MaxRetries),
			zap.Error(err))
	}

	// Retry budget exhausted: the batch is dropped, never re-enqueued.
	w.stats.IncWritesFailed()
	w.log.Error("Dropping batch after exhausting write retries",
		zap.String("batch_id", batch.ID),
		zap.Int("event_count", len(batch.Events)))
}
