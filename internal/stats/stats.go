package stats

import "sync"

// Snapshot is a point-in-time copy of the pipeline counters, safe to
// serialize for the status surface.
type Snapshot struct {
	EventsProcessed         uint64  `json:"events_processed"`
	EventsDroppedFilter     uint64  `json:"events_dropped_filter"`
	EventsDroppedQueue      uint64  `json:"events_dropped_queue"`
	MalformedFrames         uint64  `json:"malformed_frames"`
	BatchesSealedBySize     uint64  `json:"batches_sealed_by_size"`
	BatchesSealedByTimeout  uint64  `json:"batches_sealed_by_timeout"`
	BatchesSealedByShutdown uint64  `json:"batches_sealed_by_shutdown"`
	WritesSucceeded         uint64  `json:"writes_succeeded"`
	WritesFailed            uint64  `json:"writes_failed"`
	WriteSuccessRate        float64 `json:"write_success_rate"`
}

// Pipeline holds process-wide ingestion counters. A single instance is
// constructed in main and shared by every stage.
type Pipeline struct {
	mu                      sync.Mutex
	eventsProcessed         uint64
	eventsDroppedFilter     uint64
	eventsDroppedQueue      uint64
	malformedFrames         uint64
	batchesSealedBySize     uint64
	batchesSealedByTimeout  uint64
	batchesSealedByShutdown uint64
	writesSucceeded         uint64
	writesFailed            uint64
}

// New creates an empty stats object
func New() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) IncEventsProcessed() {
	p.mu.Lock()
	p.eventsProcessed++
	p.mu.Unlock()
}

func (p *Pipeline) IncEventsDroppedFilter() {
	p.mu.Lock()
	p.eventsDroppedFilter++
	p.mu.Unlock()
}

func (p *Pipeline) IncEventsDroppedQueue() {
	p.mu.Lock()
	p.eventsDroppedQueue++
	p.mu.Unlock()
}

func (p *Pipeline) IncMalformedFrames() {
	p.mu.Lock()
	p.malformedFrames++
	p.mu.Unlock()
}

func (p *Pipeline) IncBatchesSealedBySize() {
	p.mu.Lock()
	p.batchesSealedBySize++
	p.mu.Unlock()
}

func (p *Pipeline) IncBatchesSealedByTimeout() {
	p.mu.Lock()
	p.batchesSealedByTimeout++
	p.mu.Unlock()
}

func (p *Pipeline) IncBatchesSealedByShutdown() {
	p.mu.Lock()
	p.batchesSealedByShutdown++
	p.mu.Unlock()
}

func (p *Pipeline) IncWritesSucceeded() {
	p.mu.Lock()
	p.writesSucceeded++
	p.mu.Unlock()
}

func (p *Pipeline) IncWritesFailed() {
	p.mu.Lock()
	p.writesFailed++
	p.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters plus derived rates.
// The write success rate defaults to 1.0 when no writes were attempted.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := 1.0
	if total := p.writesSucceeded + p.writesFailed; total > 0 {
		rate = float64(p.writesSucceeded) / float64(total)
	}

	return Snapshot{
		EventsProcessed:         p.eventsProcessed,
		EventsDroppedFilter:     p.eventsDroppedFilter,
		EventsDroppedQueue:      p.eventsDroppedQueue,
		MalformedFrames:         p.malformedFrames,
		BatchesSealedBySize:     p.batchesSealedBySize,
		BatchesSealedByTimeout:  p.batchesSealedByTimeout,
		BatchesSealedByShutdown: p.batchesSealedByShutdown,
		WritesSucceeded:         p.writesSucceeded,
		WritesFailed:            p.writesFailed,
		WriteSuccessRate:        rate,
	}
}

// Reset zeroes every counter. Configuration held elsewhere is untouched.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventsProcessed = 0
	p.eventsDroppedFilter = 0
	p.eventsDroppedQueue = 0
	p.malformedFrames = 0
	p.batchesSealedBySize = 0
	p.batchesSealedByTimeout = 0
	p.batchesSealedByShutdown = 0
	p.writesSucceeded = 0
	p.writesFailed = 0
}
