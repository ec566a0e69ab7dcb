package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/filter"
	"github.com/wtthornton/HomeIQ-sub012/internal/queue"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
)

// ErrAuthenticationFailed is fatal: the supervisor stops instead of
// retrying with credentials the hub already rejected.
var ErrAuthenticationFailed = errors.New("hub rejected the access token")

// Config tunes the supervisor's reconnect and circuit-breaker behavior
type Config struct {
	URL                string
	AccessToken        string
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	CircuitThreshold   int
	CircuitCooldown    time.Duration
	CircuitCooldownMax time.Duration
}

// Supervisor owns the hub connection. It drives connect, authenticate,
// subscribe and consume, reconnecting with exponential backoff and
// opening a circuit after too many consecutive failures. Admitted events
// flow through the entity filter into the queue; nothing downstream sees
// a reconnect except a gap in arrivals.
type Supervisor struct {
	dialer Dialer
	config Config
	filter *filter.EntityFilter
	queue  *queue.EventQueue
	stats  *stats.Pipeline
	log    *zap.Logger

	state  atomic.Int32
	nextID int64
}

// NewSupervisor creates a supervisor in the Disconnected state
func NewSupervisor(dialer Dialer, config Config, f *filter.EntityFilter, q *queue.EventQueue, st *stats.Pipeline, log *zap.Logger) *Supervisor {
	return &Supervisor{
		dialer: dialer,
		config: config,
		filter: f,
		queue:  q,
		stats:  st,
		log:    log,
	}
}

// State returns the current connection state for the status surface
func (s *Supervisor) State() domain.ConnectionState {
	return domain.ConnectionState(s.state.Load())
}

func (s *Supervisor) setState(state domain.ConnectionState) {
	s.state.Store(int32(state))
	s.log.Debug("Connection state changed", zap.Stringer("state", state))
}

// Run drives the connection lifecycle until the context is cancelled or
// authentication fails. Transport errors are never returned; they are
// absorbed by the reconnect loop.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(domain.StateDisconnected)

	failures := 0
	cooldown := s.config.CircuitCooldown

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.establish(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthenticationFailed) {
				s.log.Error("Authentication failed, not retrying", zap.Error(err))
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			failures++
			s.log.Warn("Connection attempt failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err))

			if failures >= s.config.CircuitThreshold {
				s.setState(domain.StateCircuitOpen)
				s.log.Warn("Circuit open, suspending reconnect attempts",
					zap.Duration("cooldown", cooldown))
				if err := s.wait(ctx, cooldown); err != nil {
					return err
				}
				cooldown = minDuration(cooldown*2, s.config.CircuitCooldownMax)
				// Half-open: the next loop iteration makes a single dial.
				continue
			}

			s.setState(domain.StateReconnecting)
			if err := s.wait(ctx, withJitter(s.backoff(failures))); err != nil {
				return err
			}
			continue
		}

		failures = 0
		cooldown = s.config.CircuitCooldown
		s.setState(domain.StateSubscribed)
		s.log.Info("Subscribed to state changes", zap.String("url", s.config.URL))

		readErr := s.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		s.setState(domain.StateReconnecting)
		s.log.Warn("Connection lost", zap.Error(readErr))
		if err := s.wait(ctx, withJitter(s.backoff(failures))); err != nil {
			return err
		}
	}
}

// establish dials, authenticates and re-issues the event subscription.
// The hub does not preserve subscriptions across connections.
func (s *Supervisor) establish(ctx context.Context) (Conn, error) {
	s.setState(domain.StateConnecting)
	conn, err := s.dialer.Dial(ctx, s.config.URL)
	if err != nil {
		return nil, err
	}

	s.setState(domain.StateAuthenticating)
	if err := s.authenticate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := s.subscribe(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return conn, nil
}

func (s *Supervisor) authenticate(conn Conn) error {
	challenge, err := s.readFrame(conn)
	if err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if challenge.Type != frameAuthRequired {
		return fmt.Errorf("unexpected frame %q during auth handshake", challenge.Type)
	}

	if err := conn.WriteJSON(authFrame{Type: frameAuth, AccessToken: s.config.AccessToken}); err != nil {
		return fmt.Errorf("failed to send credentials: %w", err)
	}

	result, err := s.readFrame(conn)
	if err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}

	switch result.Type {
	case frameAuthOK:
		return nil
	case frameAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, result.Message)
	default:
		return fmt.Errorf("unexpected frame %q awaiting auth result", result.Type)
	}
}

func (s *Supervisor) subscribe(conn Conn) error {
	s.nextID++
	return conn.WriteJSON(subscribeFrame{
		ID:        s.nextID,
		Type:      frameSubscribe,
		EventType: eventTypeStateChanged,
	})
}

func (s *Supervisor) readFrame(conn Conn) (*frame, error) {
	raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &f, nil
}

// consume reads event frames until the transport fails or the context is
// cancelled. Malformed frames are counted and skipped, never fatal.
func (s *Supervisor) consume(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close() // unblock the pending read
		case <-done:
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read from hub: %w", err)
		}

		event, err := parseEvent(raw)
		if err != nil {
			if errors.Is(err, errSkipFrame) {
				continue
			}
			s.stats.IncMalformedFrames()
			s.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		if !s.filter.ShouldInclude(event) {
			s.stats.IncEventsDroppedFilter()
			continue
		}

		if err := s.queue.Put(ctx, event); err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				// The queue already counted the drop.
				continue
			}
			return err
		}
		s.stats.IncEventsProcessed()
	}
}

// backoff returns the delay before reconnect attempt number failures,
// without jitter. Doubles per failure up to BackoffMax.
func (s *Supervisor) backoff(failures int) time.Duration {
	d := s.config.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= s.config.BackoffMax {
			return s.config.BackoffMax
		}
	}
	return minDuration(d, s.config.BackoffMax)
}

// withJitter adds random jitter in [0, d/5] to spread reconnect storms
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
