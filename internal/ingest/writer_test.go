package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
	"github.com/wtthornton/HomeIQ-sub012/internal/storage"
)

// MockPointWriter is a mock implementation of storage.PointWriter
type MockPointWriter struct {
	mock.Mock
}

func (m *MockPointWriter) WritePoints(ctx context.Context, points []storage.Point) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *MockPointWriter) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPointWriter) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPointWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testBatch(reason domain.SealReason, entityIDs ...string) domain.Batch {
	events := make([]domain.Event, 0, len(entityIDs))
	for _, id := range entityIDs {
		events = append(events, domain.Event{
			EntityID:  id,
			Domain:    domain.DomainOf(id),
			State:     "on",
			Timestamp: time.Now(),
		})
	}
	return domain.Batch{ID: "batch-1", Events: events, CreatedAt: time.Now(), SealReason: reason}
}

func runWriter(w *Writer, batches ...domain.Batch) {
	in := make(chan domain.Batch, len(batches))
	for _, b := range batches {
		in <- b
	}
	close(in)
	w.Start(context.Background(), in)
}

func TestWriter_WritesBatch(t *testing.T) {
	mockStore := new(MockPointWriter)
	st := stats.New()

	w := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Concurrency: 2,
	}, st, zap.NewNop())

	mockStore.On("WritePoints", mock.Anything, mock.MatchedBy(func(points []storage.Point) bool {
		return len(points) == 2 && points[0].Tags["entity_id"] == "light.kitchen"
	})).Return(nil).Once()

	runWriter(w, testBatch(domain.SealSize, "light.kitchen", "sensor.hall"))

	mockStore.AssertExpectations(t)
	assert.Equal(t, uint64(1), st.Snapshot().WritesSucceeded)
	assert.Equal(t, uint64(0), st.Snapshot().WritesFailed)
}

func TestWriter_RetriesThenSucceeds(t *testing.T) {
	mockStore := new(MockPointWriter)
	st := stats.New()

	w := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Concurrency: 1,
	}, st, zap.NewNop())

	mockStore.On("WritePoints", mock.Anything, mock.Anything).
		Return(errors.New("store unavailable")).Twice()
	mockStore.On("WritePoints", mock.Anything, mock.Anything).
		Return(nil).Once()

	runWriter(w, testBatch(domain.SealTimeout, "light.kitchen"))

	mockStore.AssertExpectations(t)
	assert.Equal(t, uint64(1), st.Snapshot().WritesSucceeded)
	assert.Equal(t, uint64(0), st.Snapshot().WritesFailed)
}

func TestWriter_DropsBatchAfterExhaustingRetries(t *testing.T) {
	mockStore := new(MockPointWriter)
	st := stats.New()

	w := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Concurrency: 1,
	}, st, zap.NewNop())

	mockStore.On("WritePoints", mock.Anything, mock.Anything).
		Return(errors.New("store unavailable"))

	runWriter(w, testBatch(domain.SealSize, "light.kitchen"))

	// Exactly max_retries attempts, then the batch is dropped for good.
	mockStore.AssertNumberOfCalls(t, "WritePoints", 3)
	assert.Equal(t, uint64(1), st.Snapshot().WritesFailed)
	assert.Equal(t, uint64(0), st.Snapshot().WritesSucceeded)
}

// gatedPointWriter blocks every write on a shared gate and records how
// many writes were in flight at once.
type gatedPointWriter struct {
	gate     chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedPointWriter) WritePoints(_ context.Context, _ []storage.Point) error {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-g.gate
	return nil
}

func (g *gatedPointWriter) InitSchema(context.Context) error { return nil }
func (g *gatedPointWriter) Ping(context.Context) error       { return nil }
func (g *gatedPointWriter) Close() error                     { return nil }

func TestWriter_ConcurrencyNeverExceedsLimit(t *testing.T) {
	store := &gatedPointWriter{gate: make(chan struct{})}
	st := stats.New()

	w := NewWriter(store, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		Concurrency: 2,
	}, st, zap.NewNop())

	in := make(chan domain.Batch, 6)
	for i := 0; i < 6; i++ {
		in <- testBatch(domain.SealSize, "light.kitchen")
	}
	close(in)

	done := make(chan struct{})
	go func() {
		w.Start(context.Background(), in)
		close(done)
	}()

	// Both permits get taken while the writes block on the gate; the
	// remaining batches have to queue behind them.
	assert.Eventually(t, func() bool {
		return store.inFlight.Load() == 2
	}, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), store.peak.Load())

	close(store.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not drain after the gate opened")
	}

	assert.Equal(t, int32(2), store.peak.Load())
	assert.Equal(t, uint64(6), st.Snapshot().WritesSucceeded)
}

func TestWriter_BackoffIsBoundedByContext(t *testing.T) {
	mockStore := new(MockPointWriter)
	st := stats.New()

	w := NewWriter(mockStore, WriterConfig{
		Measurement: "state_changed",
		MaxRetries:  5,
		BackoffBase: time.Minute,
		Concurrency: 1,
	}, st, zap.NewNop())

	mockStore.On("WritePoints", mock.Anything, mock.Anything).
		Return(errors.New("store unavailable"))

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan domain.Batch, 1)
	in <- testBatch(domain.SealSize, "light.kitchen")
	close(in)

	done := make(chan struct{})
	go func() {
		w.Start(ctx, in)
		close(done)
	}()

	// Cancel while the writer sleeps between attempts.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop during backoff")
	}
	assert.Equal(t, uint64(1), st.Snapshot().WritesFailed)
}

func TestToPoints(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	batch := domain.Batch{
		ID: "batch-1",
		Events: []domain.Event{
			{
				EntityID:      "light.kitchen",
				Domain:        "light",
				State:         "on",
				PreviousState: "off",
				Timestamp:     ts,
				Attributes:    map[string]any{"brightness": 254, "state": "shadowed"},
			},
		},
		SealReason: domain.SealSize,
	}

	points := toPoints("state_changed", batch)
	assert.Len(t, points, 1)

	point := points[0]
	assert.Equal(t, "state_changed", point.Measurement)
	assert.Equal(t, "light.kitchen", point.Tags["entity_id"])
	assert.Equal(t, "light", point.Tags["domain"])
	assert.Equal(t, "on", point.Fields["state"])
	assert.Equal(t, "off", point.Fields["previous_state"])
	assert.Equal(t, 254, point.Fields["brightness"])
	assert.Equal(t, ts, point.Timestamp)
}
