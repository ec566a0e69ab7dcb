package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
)

// ErrQueueFull indicates the queue could not accept an event under the
// configured overflow policy.
var ErrQueueFull = errors.New("event queue full")

// OverflowPolicy selects how Put behaves when the queue is at capacity.
type OverflowPolicy int

const (
	// BlockWithTimeout makes Put wait up to the configured timeout for
	// space, then fail with ErrQueueFull.
	BlockWithTimeout OverflowPolicy = iota
	// DropOldest evicts the head of the queue to make room for the
	// incoming event.
	DropOldest
	// RejectNew fails the incoming event immediately.
	RejectNew
)

// ParsePolicy maps a configuration string onto an OverflowPolicy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "block":
		return BlockWithTimeout, nil
	case "drop_oldest":
		return DropOldest, nil
	case "reject_new":
		return RejectNew, nil
	default:
		return BlockWithTimeout, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	switch p {
	case BlockWithTimeout:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case RejectNew:
		return "reject_new"
	default:
		return "unknown"
	}
}

// EventQueue is a bounded FIFO between the connection supervisor and the
// batch accumulator. All synchronization is internal; the channel bound
// guarantees the queue never holds more than maxSize events.
type EventQueue struct {
	ch         chan domain.Event
	policy     OverflowPolicy
	putTimeout time.Duration
	stats      *stats.Pipeline
	log        *zap.Logger
}

// New creates a bounded queue with the given capacity and overflow policy.
// putTimeout only applies under BlockWithTimeout.
func New(maxSize int, policy OverflowPolicy, putTimeout time.Duration, st *stats.Pipeline, log *zap.Logger) *EventQueue {
	return &EventQueue{
		ch:         make(chan domain.Event, maxSize),
		policy:     policy,
		putTimeout: putTimeout,
		stats:      st,
		log:        log,
	}
}

// Put enqueues an event, applying the overflow policy when the queue is
// full. Every event lost to the policy increments the dropped-queue
// counter exactly once.
func (q *EventQueue) Put(ctx context.Context, event domain.Event) error {
	switch q.policy {
	case DropOldest:
		for {
			select {
			case q.ch <- event:
				return nil
			default:
			}
			// Full at this instant. Race the send against the eviction so
			// a slot freed by the consumer in the meantime can still win;
			// the drop counter only moves when an event was really evicted.
			select {
			case q.ch <- event:
				return nil
			case evicted := <-q.ch:
				q.stats.IncEventsDroppedQueue()
				q.log.Warn("Queue full, evicted oldest event",
					zap.String("entity_id", evicted.EntityID))
			}
		}

	case RejectNew:
		select {
		case q.ch <- event:
			return nil
		default:
			q.stats.IncEventsDroppedQueue()
			q.log.Warn("Queue full, rejected event",
				zap.String("entity_id", event.EntityID))
			return ErrQueueFull
		}

	default: // BlockWithTimeout
		timer := time.NewTimer(q.putTimeout)
		defer timer.Stop()

		select {
		case q.ch <- event:
			return nil
		case <-timer.C:
			q.stats.IncEventsDroppedQueue()
			q.log.Warn("Queue full, put timed out",
				zap.String("entity_id", event.EntityID),
				zap.Duration("timeout", q.putTimeout))
			return ErrQueueFull
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Events exposes the consumer side of the queue so the accumulator can
// select between an incoming event and its flush timer.
func (q *EventQueue) Events() <-chan domain.Event {
	return q.ch
}

// Len returns the number of events currently buffered.
func (q *EventQueue) Len() int {
	return len(q.ch)
}
