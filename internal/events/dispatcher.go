package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	tomb "gopkg.in/tomb.v2"
)

// DefaultHandleTimeout bounds a single reaction call.
const DefaultHandleTimeout = 5 * time.Second

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("dispatcher closed")

// Reaction consumes events. Implementations need not be safe for
// concurrent use: each reaction is driven by exactly one goroutine.
type Reaction interface {
	Handle(ctx context.Context, e Event) error
}

// ReactionFunc adapts a function to Reaction.
type ReactionFunc func(ctx context.Context, e Event) error

func (f ReactionFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// ReactionStats counts outcomes for one reaction.
type ReactionStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

type subscriber struct {
	name      string
	reaction  Reaction
	queue     *queue
	delivered atomic.Int64
	failed    atomic.Int64
}

// Dispatcher fans events out to registered reactions.
//
// Every registered reaction receives every event published after its
// registration exactly once, in publish order. Each reaction has its own
// queue and goroutine, so a slow or failing reaction delays only itself.
// Publish never blocks on reaction work.
type Dispatcher struct {
	mu            sync.Mutex
	subs          []*subscriber
	closed        bool
	closing       chan struct{}
	t             tomb.Tomb
	handleTimeout time.Duration
	onError       func(name string, e Event, err error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHandleTimeout bounds each reaction call.
func WithHandleTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.handleTimeout = d
		}
	}
}

// WithErrorHook is called, from the reaction's goroutine, whenever a
// reaction returns an error or panics.
func WithErrorHook(fn func(name string, e Event, err error)) Option {
	return func(disp *Dispatcher) { disp.onError = fn }
}

// NewDispatcher creates a running dispatcher with no reactions.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		closing:       make(chan struct{}),
		handleTimeout: DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Keeps the tomb alive until Close, even with zero reactions.
	d.t.Go(func() error {
		<-d.closing
		return nil
	})
	return d
}

// Register adds a reaction. Events published before registration are not
// delivered to it.
func (d *Dispatcher) Register(name string, r Reaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("register %s: %w", name, ErrClosed)
	}

	s := &subscriber{name: name, reaction: r, queue: newQueue()}
	d.subs = append(d.subs, s)
	d.t.Go(func() error {
		d.consume(s)
		return nil
	})

	slog.Debug("reaction registered", "reaction", name)
	return nil
}

// Publish enqueues e for every registered reaction. Returns false after
// Close. Safe for concurrent use; concurrent publishers are serialized so
// that all reactions observe one global order.
func (d *Dispatcher) Publish(e Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	for _, s := range d.subs {
		s.queue.Enqueue(e)
	}
	return true
}

// Stats returns per-reaction counters keyed by reaction name.
func (d *Dispatcher) Stats() map[string]ReactionStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]ReactionStats, len(d.subs))
	for _, s := range d.subs {
		out[s.name] = ReactionStats{
			Delivered: s.delivered.Load(),
			Failed:    s.failed.Load(),
			Pending:   s.queue.Len(),
		}
	}
	return out
}

// Close stops intake, then waits for every queued event to be delivered.
// If ctx expires first, delivery is abandoned and ctx's error is returned.
// Subsequent calls return the first result.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, s := range d.subs {
			s.queue.Close()
		}
		close(d.closing)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.t.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.t.Kill(ctx.Err())
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

func (d *Dispatcher) consume(s *subscriber) {
	for {
		// Killed on Close timeout: abandon the rest.
		if !d.t.Alive() {
			return
		}

		e, ok, drained := s.queue.TryDequeue()
		if drained {
			return
		}
		if ok {
			d.deliver(s, e)
			continue
		}

		select {
		case <-d.t.Dying():
			return
		case <-s.queue.Wait():
		}
	}
}

func (d *Dispatcher) deliver(s *subscriber, e Event) {
	ctx, cancel := context.WithTimeout(d.t.Context(nil), d.handleTimeout)
	defer cancel()

	err := safeHandle(ctx, s.reaction, e)
	if err == nil {
		s.delivered.Add(1)
		return
	}

	s.failed.Add(1)
	slog.Error("reaction failed",
		"reaction", s.name,
		"event_id", e.ID,
		"kind", e.Kind,
		"error", err)
	if d.onError != nil {
		d.onError(s.name, e, err)
	}
}

// safeHandle converts a reaction panic into an error.
func safeHandle(ctx context.Context, r Reaction, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reaction panicked: %v", p)
		}
	}()
	return r.Handle(ctx, e)
}
