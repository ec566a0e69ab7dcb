package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/queue"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
)

// AccumulatorConfig configures the batch accumulator
type AccumulatorConfig struct {
	MaxBatchSize int
	BatchTimeout time.Duration
}

// Accumulator collects queued events into batches and seals them on a
// size or timeout trigger, whichever fires first. The timeout is measured
// from the first event of the open batch, so an idle pipeline never
// produces a batch.
type Accumulator struct {
	queue  *queue.EventQueue
	config AccumulatorConfig
	stats  *stats.Pipeline
	log    *zap.Logger
}

// NewAccumulator creates a new batch accumulator
func NewAccumulator(q *queue.EventQueue, config AccumulatorConfig, st *stats.Pipeline, log *zap.Logger) *Accumulator {
	return &Accumulator{
		queue:  q,
		config: config,
		stats:  st,
		log:    log,
	}
}

// Start runs the accumulation loop until the context is cancelled. On
// shutdown any buffered events are drained from the queue, sealed with
// reason shutdown and flushed to out before the channel is closed.
func (a *Accumulator) Start(ctx context.Context, out chan<- domain.Batch) {
	defer close(out)

	var (
		open   []domain.Event
		timer  *time.Timer
		timerC <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Accumulator shutting down", zap.Int("open_batch_size", len(open)))
			a.drain(&open, out)
			if len(open) > 0 {
				a.seal(open, domain.SealShutdown, out)
			}
			return

		case event := <-a.queue.Events():
			if len(open) == 0 {
				timer = time.NewTimer(a.config.BatchTimeout)
				timerC = timer.C
			}
			open = append(open, event)

			if len(open) >= a.config.MaxBatchSize {
				stopTimer()
				a.seal(open, domain.SealSize, out)
				open = nil
			}

		case <-timerC:
			timer, timerC = nil, nil
			if len(open) > 0 {
				a.seal(open, domain.SealTimeout, out)
				open = nil
			}
		}
	}
}

// drain pulls whatever is left in the queue without blocking, sealing
// full batches along the way. Shutdown must not discard buffered events.
func (a *Accumulator) drain(open *[]domain.Event, out chan<- domain.Batch) {
	for {
		select {
		case event := <-a.queue.Events():
			*open = append(*open, event)
			if len(*open) >= a.config.MaxBatchSize {
				a.seal(*open, domain.SealSize, out)
				*open = nil
			}
		default:
			return
		}
	}
}

// seal hands the batch to the writer. Ownership of the events transfers
// with it; the accumulator never touches the slice again.
func (a *Accumulator) seal(events []domain.Event, reason domain.SealReason, out chan<- domain.Batch) {
	batch := domain.Batch{
		ID:         uuid.NewString(),
		Events:     events,
		CreatedAt:  time.Now().UTC(),
		SealReason: reason,
	}

	switch reason {
	case domain.SealSize:
		a.stats.IncBatchesSealedBySize()
	case domain.SealTimeout:
		a.stats.IncBatchesSealedByTimeout()
	case domain.SealShutdown:
		a.stats.IncBatchesSealedByShutdown()
	}

	a.log.Info("Sealed batch",
		zap.String("batch_id", batch.ID),
		zap.Int("event_count", len(batch.Events)),
		zap.String("seal_reason", string(reason)))

	out <- batch
}
