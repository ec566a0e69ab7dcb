package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/queue"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
)

// fakeSource enqueues a fixed number of events, then idles until cancelled
type fakeSource struct {
	queue *queue.EventQueue
	count int
}

func (s *fakeSource) Run(ctx context.Context) error {
	for i := 0; i < s.count; i++ {
		event := domain.Event{
			EntityID:  fmt.Sprintf("sensor.s%d", i),
			Domain:    "sensor",
			State:     "on",
			Timestamp: time.Now(),
		}
		if err := s.queue.Put(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// failingSource simulates a fatal supervisor error such as rejected credentials
type failingSource struct {
	err error
}

func (s *failingSource) Run(ctx context.Context) error {
	return s.err
}

func TestPipeline_GracefulShutdownFlushesBufferedEvents(t *testing.T) {
	st := stats.New()
	q := queue.New(64, queue.BlockWithTimeout, time.Second, st, zap.NewNop())

	mockStore := new(MockPointWriter)
	mockStore.On("WritePoints", mock.Anything, mock.Anything).Return(nil)

	accumulator := NewAccumulator(q, AccumulatorConfig{
		MaxBatchSize: 100,
		BatchTimeout: time.Minute,
	}, st, zap.NewNop())

	writer := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Concurrency: 2,
	}, st, zap.NewNop())

	pipeline := NewPipeline(&fakeSource{queue: q, count: 3}, accumulator, writer, PipelineConfig{
		BatchBuffer:   4,
		ShutdownGrace: 2 * time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx) }()

	// Let the events reach the accumulator's open batch, then shut down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	snapshot := st.Snapshot()
	assert.Equal(t, uint64(1), snapshot.BatchesSealedByShutdown)
	assert.Equal(t, uint64(1), snapshot.WritesSucceeded)
	mockStore.AssertCalled(t, "WritePoints", mock.Anything, mock.Anything)
}

func TestPipeline_FatalSourceErrorStopsAllStages(t *testing.T) {
	st := stats.New()
	q := queue.New(4, queue.BlockWithTimeout, time.Second, st, zap.NewNop())

	mockStore := new(MockPointWriter)

	accumulator := NewAccumulator(q, AccumulatorConfig{
		MaxBatchSize: 10,
		BatchTimeout: time.Minute,
	}, st, zap.NewNop())

	writer := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		Concurrency: 1,
	}, st, zap.NewNop())

	fatal := errors.New("hub rejected the access token")
	pipeline := NewPipeline(&failingSource{err: fatal}, accumulator, writer, PipelineConfig{
		BatchBuffer:   1,
		ShutdownGrace: time.Second,
	}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- pipeline.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, fatal)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after fatal source error")
	}
}
