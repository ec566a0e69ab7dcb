package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
)

// EventSource feeds the queue until its context is cancelled. The
// connection supervisor is the production implementation.
type EventSource interface {
	Run(ctx context.Context) error
}

// PipelineConfig configures stage wiring
type PipelineConfig struct {
	BatchBuffer   int
	ShutdownGrace time.Duration
}

// Pipeline wires the event source, batch accumulator and storage writer
// into one unit with a shared shutdown sequence: the source stops
// enqueueing, the accumulator drains and seals the open batch, and the
// writer gets a grace period to flush before it is cancelled.
type Pipeline struct {
	source      EventSource
	accumulator *Accumulator
	writer      *Writer
	config      PipelineConfig
	log         *zap.Logger
}

// NewPipeline creates a pipeline from already-constructed stages
func NewPipeline(source EventSource, accumulator *Accumulator, writer *Writer, config PipelineConfig, log *zap.Logger) *Pipeline {
	if config.BatchBuffer < 1 {
		config.BatchBuffer = 1
	}

	return &Pipeline{
		source:      source,
		accumulator: accumulator,
		writer:      writer,
		config:      config,
		log:         log,
	}
}

// Run starts all stages and blocks until they have stopped. The returned
// error is non-nil only for fatal source failures such as rejected
// credentials; transport and write errors surface as counters instead.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The writer runs on its own context that survives shutdown by the
	// grace period so the final batch can still be flushed.
	writerCtx, writerCancel := context.WithCancel(context.Background())
	defer writerCancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-writerCtx.Done():
			return
		}
		timer := time.NewTimer(p.config.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			writerCancel()
		case <-writerCtx.Done():
		}
	}()

	batches := make(chan domain.Batch, p.config.BatchBuffer)
	fatal := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := p.source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case fatal <- err:
			default:
			}
			// A dead source means nothing will ever reach the queue again;
			// shut the rest of the pipeline down behind it.
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		p.accumulator.Start(ctx, batches)
	}()

	go func() {
		defer wg.Done()
		p.writer.Start(writerCtx, batches)
	}()

	wg.Wait()

	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}
