package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
)

// Defaults for Engine options.
const (
	DefaultWorkers        = 4
	DefaultBatchSize      = 100
	DefaultMinBatchSize   = 10
	DefaultInterval       = time.Second
	DefaultMaxInterval    = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultOpTimeout      = 5 * time.Second
	DefaultErrorThreshold = 0.5
)

// Gateway is the persistence surface the engine needs.
// Implemented by *store.Store.
type Gateway interface {
	ListPending(ctx context.Context, limit int) ([]model.Order, error)
	AdvanceOrder(ctx context.Context, tr model.Transition) (model.StatusLog, error)
	FailOrder(ctx context.Context, id int64, from model.Status, reason string) (model.StatusLog, error)
	Flag(ctx context.Context, key model.FlagKey) (bool, error)
}

// FlagSource is the cached view of user and group flags.
// Implemented by *cache.Cache.
type FlagSource interface {
	GetFlag(ctx context.Context, key model.FlagKey) (enabled, found bool, err error)
	SetFlags(ctx context.Context, flags []model.Flag) error
}

// Publisher receives committed transitions. Implemented by
// *events.Dispatcher.
type Publisher interface {
	Publish(e events.Event) bool
}

// Engine advances eligible orders through their lifecycle.
//
// Each cycle fetches a batch of active orders, filters out orders whose
// user or group is disabled, and hands the rest to a fixed pool of
// workers. Workers write through the store's conditional update, which is
// the only coordination between concurrent writers: a lost race surfaces
// as a conflict and is skipped.
//
// Thread-safety model:
//   - RunCycle(): serialized internally; safe from any goroutine
//   - Run(): at most one goroutine
//   - Stop(), Shutdown(), Stats(): safe from any goroutine
type Engine struct {
	id      string
	gw      Gateway
	el      *eligibility
	exec    Executor
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time

	workers        int
	maxBatch       int
	minBatch       int
	interval       time.Duration
	maxInterval    time.Duration
	maxRetries     int
	opTimeout      time.Duration
	errorThreshold float64

	throttle *throttle
	backlog  *backlog
	seq      atomic.Int64

	// Worker pool. tasks is unbuffered so a send succeeds only once a
	// worker has taken the task.
	t         tomb.Tomb
	tasks     chan task
	startOnce sync.Once

	cycleMu sync.Mutex
	closed  bool // guarded by cycleMu

	stopCh       chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	drained      chan struct{}

	counts counters
}

type counters struct {
	processed atomic.Int64
	conflicts atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
	skipped   atomic.Int64
	held      atomic.Int64
	degraded  atomic.Int64
	cycles    atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBatchSize sets the maximum number of orders per cycle.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBatch = n
		}
	}
}

// WithMinBatchSize sets the floor the throttle shrinks the batch to.
func WithMinBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minBatch = n
		}
	}
}

// WithInterval sets the base delay between cycles.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxInterval sets the ceiling the throttle stretches the interval to.
func WithMaxInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxInterval = d
		}
	}
}

// WithMaxRetries sets how many transient failures an order may see before
// it is marked FAILED.
//
// Default: 3 (DefaultMaxRetries)
// Use WithMaxRetries(0) to fail an order on its first transport error.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithOpTimeout bounds every store and cache round trip.
func WithOpTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.opTimeout = d
		}
	}
}

// WithErrorThreshold sets the per-cycle error ratio at which the throttle
// backs off.
func WithErrorThreshold(r float64) Option {
	return func(e *Engine) {
		if r > 0 && r <= 1 {
			e.errorThreshold = r
		}
	}
}

// WithMetrics records engine activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the wall clock used for cycle timing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine. flags and pub may be nil: without a cache every
// flag read goes to the store, and without a publisher no events are
// emitted.
func New(gw Gateway, flags FlagSource, exec Executor, pub Publisher, opts ...Option) *Engine {
	e := &Engine{
		id:             uuid.NewString(),
		gw:             gw,
		el:             &eligibility{gw: gw, flags: flags},
		exec:           exec,
		pub:            pub,
		now:            time.Now,
		workers:        DefaultWorkers,
		maxBatch:       DefaultBatchSize,
		minBatch:       DefaultMinBatchSize,
		interval:       DefaultInterval,
		maxInterval:    DefaultMaxInterval,
		maxRetries:     DefaultMaxRetries,
		opTimeout:      DefaultOpTimeout,
		errorThreshold: DefaultErrorThreshold,
		backlog:        newBacklog(),
		tasks:          make(chan task),
		stopCh:         make(chan struct{}),
		drained:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.minBatch = min(e.minBatch, e.maxBatch)
	e.maxInterval = max(e.maxInterval, e.interval)
	e.throttle = newThrottle(e.maxBatch, e.minBatch, e.interval, e.maxInterval, e.errorThreshold)

	return e
}

// ID returns the engine instance identifier used in logs.
func (e *Engine) ID() string {
	return e.id
}

// Run executes cycles until ctx is cancelled or Stop is called. A failed
// cycle is logged and the loop continues after the current interval.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"engine_id", e.id,
		"workers", e.workers,
		"batch_size", e.maxBatch,
		"interval", e.interval,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled", "engine_id", e.id)
			return ctx.Err()
		case <-e.stopCh:
			slog.Info("engine stopping: stop requested", "engine_id", e.id)
			return nil
		case <-timer.C:
		}

		rep, err := e.RunCycle(ctx)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if err != nil {
			slog.Warn("engine cycle failed", "engine_id", e.id, "cycle", rep.Seq, "error", err)
		}

		_, next := e.throttle.current()
		timer.Reset(next)
	}
}

// Stop makes Run return before its next cycle. In-flight work is not
// interrupted; use Shutdown to wait for it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// Shutdown stops intake and waits for in-flight orders to finish. If ctx
// expires first, outstanding store calls are cancelled and the context
// error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()

	e.shutdownOnce.Do(func() {
		// Workers exit once tasks is closed, so the tomb always dies.
		e.startPool()
		go func() {
			e.cycleMu.Lock()
			e.closed = true
			close(e.tasks)
			e.cycleMu.Unlock()

			e.t.Wait()
			close(e.drained)
		}()
	})

	select {
	case <-e.drained:
		slog.Info("engine drained", "engine_id", e.id)
		return nil
	case <-ctx.Done():
		e.t.Kill(ctx.Err())
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

// Stats is a snapshot of engine counters and current throttle settings.
type Stats struct {
	// Processed counts committed transitions, FAILED ones included.
	Processed int64 `json:"processed"`
	Conflicts int64 `json:"conflicts"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Exhausted int64 `json:"exhausted"`
	Skipped   int64 `json:"skipped"`
	Held      int64 `json:"held"`
	Degraded  int64 `json:"degraded"`
	Cycles    int64 `json:"cycles"`

	Backlog   int           `json:"backlog"`
	BatchSize int           `json:"batch_size"`
	Interval  time.Duration `json:"interval"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	batch, interval := e.throttle.current()
	return Stats{
		Processed: e.counts.processed.Load(),
		Conflicts: e.counts.conflicts.Load(),
		Failed:    e.counts.failed.Load(),
		Retried:   e.counts.retried.Load(),
		Exhausted: e.counts.exhausted.Load(),
		Skipped:   e.counts.skipped.Load(),
		Held:      e.counts.held.Load(),
		Degraded:  e.counts.degraded.Load(),
		Cycles:    e.counts.cycles.Load(),
		Backlog:   e.backlog.len(),
		BatchSize: batch,
		Interval:  interval,
	}
}

// Counters returns Stats as a flat map for the monitor snapshot.
func (e *Engine) Counters() map[string]int64 {
	s := e.Stats()
	return map[string]int64{
		"processed":   s.Processed,
		"conflicts":   s.Conflicts,
		"failed":      s.Failed,
		"retried":     s.Retried,
		"exhausted":   s.Exhausted,
		"skipped":     s.Skipped,
		"held":        s.Held,
		"degraded":    s.Degraded,
		"cycles":      s.Cycles,
		"backlog":     int64(s.Backlog),
		"batch_size":  int64(s.BatchSize),
		"interval_ms": s.Interval.Milliseconds(),
	}
}

func (e *Engine) publish(log model.StatusLog, o model.Order) {
	if e.pub == nil {
		return
	}
	if !e.pub.Publish(events.NewOrderTransitioned(log, o.UserID, o.GroupID)) {
		slog.Warn("transition event dropped: dispatcher closed", "order_id", o.ID, "log_id", log.ID)
	}
}
