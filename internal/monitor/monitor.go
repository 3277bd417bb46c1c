// Package monitor keeps the flag cache in line with the store and
// publishes periodic system snapshots.
//
// Reconcile reads every user and group flag from the store, compares it
// with what it saw last time (or, on first sight, with the cache), and for
// each flip writes the cache, appends a flag change row and publishes a
// FlagChanged event. A user or group that appears after the first pass is
// announced with an EntityAdded event. A flag the cache lost through TTL expiry is rewritten
// without an event. Running Reconcile again with nothing changed writes
// nothing and publishes nothing.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultSnapshotInterval = 15 * time.Second
)

// Store is the persistence surface the monitor reads and appends to.
// Implemented by *store.Store.
type Store interface {
	LoadFlags(ctx context.Context) ([]model.Flag, error)
	AppendFlagChanges(ctx context.Context, changes []model.FlagChange) error
	CountOrdersByStatus(ctx context.Context) (map[model.Status]int, error)
	CountActive(ctx context.Context) (users, groups int, err error)
}

// Cache is the cache surface the monitor writes. Implemented by
// *cache.Cache.
type Cache interface {
	GetFlags(ctx context.Context, keys []model.FlagKey) (map[model.FlagKey]cache.Entry, error)
	SetFlags(ctx context.Context, flags []model.Flag) error
	PutStats(ctx context.Context, snap model.Snapshot) error
}

// Publisher receives flag change events. Implemented by
// *events.Dispatcher.
type Publisher interface {
	Publish(e events.Event) bool
}

// CounterSource contributes counters to snapshots. Implemented by
// *engine.Engine.
type CounterSource interface {
	Counters() map[string]int64
}

// Monitor reconciles flags and produces snapshots.
type Monitor struct {
	store    Store
	cache    Cache
	pub      Publisher
	counters CounterSource
	metrics  *metrics.Metrics
	now      func() time.Time

	interval         time.Duration
	snapshotInterval time.Duration

	// mu serializes Reconcile and guards known.
	mu    sync.Mutex
	known map[model.FlagKey]bool

	lastMu sync.RWMutex
	last   *model.Snapshot

	refresh chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the reconcile period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSnapshotInterval sets the snapshot period.
func WithSnapshotInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.snapshotInterval = d
		}
	}
}

// WithCounters merges src's counters into every snapshot.
func WithCounters(src CounterSource) Option {
	return func(m *Monitor) {
		m.counters = src
	}
}

// WithMetrics records reconciles and snapshot gauges into mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// WithClock sets the clock used to stamp changes and snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a Monitor. pub may be nil.
func New(s Store, c Cache, pub Publisher, opts ...Option) *Monitor {
	m := &Monitor{
		store:            s,
		cache:            c,
		pub:              pub,
		now:              time.Now,
		interval:         DefaultInterval,
		snapshotInterval: DefaultSnapshotInterval,
		known:            make(map[model.FlagKey]bool),
		refresh:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result describes one reconcile pass.
type Result struct {
	// Loaded is the number of flags read from the store.
	Loaded int

	// Changes are the flips detected and recorded by this pass.
	Changes []model.FlagChange

	// Added are the flags first seen by this pass. Empty on the first
	// pass, which sees everything.
	Added []model.Flag

	// CacheWrites is the number of cache entries written.
	CacheWrites int
}

// Reconcile brings the cache in line with the store and records flips.
//
// The old value of a flag is the one this monitor saw last time or, if
// it has not seen the flag yet, the cached value. A flip is recorded only
// when an old value is known. The cache is written whenever its entry is
// missing or differs from the store.
//
// A failed cache read is not fatal: entries are treated as missing and
// the error is returned after the pass.
func (m *Monitor) Reconcile(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flags, err := m.store.LoadFlags(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: %w", err)
	}
	res := Result{Loaded: len(flags)}

	keys := make([]model.FlagKey, len(flags))
	for i, f := range flags {
		keys[i] = f.Key
	}

	var errs []error
	cached, err := m.cache.GetFlags(ctx, keys)
	if err != nil {
		errs = append(errs, err)
		cached = nil
	}

	at := m.now().UTC()
	var writes []model.Flag
	for _, f := range flags {
		entry, inCache := cached[f.Key]

		old, seen := m.known[f.Key]
		if !seen && len(m.known) > 0 {
			res.Added = append(res.Added, f)
		}
		if !seen && inCache {
			old, seen = entry.Enabled, true
		}
		if seen && old != f.Enabled {
			res.Changes = append(res.Changes, model.FlagChange{Key: f.Key, Old: old, New: f.Enabled, At: at})
		}
		if !inCache || entry.Enabled != f.Enabled {
			writes = append(writes, f)
		}
	}

	if len(writes) > 0 {
		if err := m.cache.SetFlags(ctx, writes); err != nil {
			errs = append(errs, err)
		} else {
			res.CacheWrites = len(writes)
		}
	}

	if len(res.Changes) > 0 {
		if err := m.store.AppendFlagChanges(ctx, res.Changes); err != nil {
			// known keeps the old values, so the next pass records them again.
			errs = append(errs, fmt.Errorf("record flag changes: %w", err))
			res.Changes = nil
			return res, fmt.Errorf("reconcile: %w", errors.Join(errs...))
		}
		for _, c := range res.Changes {
			slog.Info("flag changed",
				"key", c.Key.String(),
				"old", c.Old,
				"new", c.New,
			)
			if m.pub != nil && !m.pub.Publish(events.NewFlagChanged(c)) {
				slog.Warn("flag event dropped: dispatcher closed", "key", c.Key.String())
			}
		}
	}

	for _, f := range res.Added {
		slog.Info("entity added", "key", f.Key.String(), "enabled", f.Enabled)
		if m.pub != nil && !m.pub.Publish(events.NewEntityAdded(f, at)) {
			slog.Warn("entity event dropped: dispatcher closed", "key", f.Key.String())
		}
	}

	known := make(map[model.FlagKey]bool, len(flags))
	for _, f := range flags {
		known[f.Key] = f.Enabled
	}
	m.known = known

	if m.metrics != nil {
		m.metrics.Reconciles.Inc()
	}

	slog.Debug("reconcile complete",
		"loaded", res.Loaded,
		"changes", len(res.Changes),
		"added", len(res.Added),
		"cache_writes", res.CacheWrites,
	)

	if len(errs) > 0 {
		return res, fmt.Errorf("reconcile: %w", errors.Join(errs...))
	}
	return res, nil
}

// ForceRefresh reconciles immediately and takes a fresh snapshot.
func (m *Monitor) ForceRefresh(ctx context.Context) (Result, error) {
	res, err := m.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	if _, err := m.Snapshot(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// RequestRefresh asks a running Run loop to reconcile as soon as
// possible. It never blocks; requests made while one is pending collapse.
func (m *Monitor) RequestRefresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Snapshot aggregates active entities, order counts, and counters, then
// stores the result in the cache. The snapshot is returned and kept as
// Last even when the cache write fails.
func (m *Monitor) Snapshot(ctx context.Context) (model.Snapshot, error) {
	users, groups, err := m.store.CountActive(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	orders, err := m.store.CountOrdersByStatus(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	snap := model.Snapshot{
		At:           m.now().UTC(),
		ActiveUsers:  users,
		ActiveGroups: groups,
		Orders:       orders,
	}
	if m.counters != nil {
		snap.Counters = m.counters.Counters()
	}

	m.lastMu.Lock()
	m.last = &snap
	m.lastMu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveUsers.Set(float64(users))
		m.metrics.ActiveGroups.Set(float64(groups))
		for st, n := range orders {
			m.metrics.OrdersByStatus.WithLabelValues(string(st)).Set(float64(n))
		}
	}

	if err := m.cache.PutStats(ctx, snap); err != nil {
		return snap, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// Last returns the most recent snapshot, if any.
func (m *Monitor) Last() (model.Snapshot, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	if m.last == nil {
		return model.Snapshot{}, false
	}
	return *m.last, true
}

// Run reconciles and snapshots on their intervals until ctx is done.
// Failures are logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("monitor starting",
		"interval", m.interval,
		"snapshot_interval", m.snapshotInterval,
	)

	reconcile := time.NewTicker(m.interval)
	defer reconcile.Stop()
	snapshot := time.NewTicker(m.snapshotInterval)
	defer snapshot.Stop()

	m.runReconcile(ctx)
	m.runSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopping: context cancelled")
			return ctx.Err()
		case <-reconcile.C:
			m.runReconcile(ctx)
		case <-m.refresh:
			slog.Info("monitor refresh requested")
			m.runReconcile(ctx)
			m.runSnapshot(ctx)
		case <-snapshot.C:
			m.runSnapshot(ctx)
		}
	}
}

func (m *Monitor) runReconcile(ctx context.Context) {
	if _, err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("reconcile failed", "error", err)
	}
}

func (m *Monitor) runSnapshot(ctx context.Context) {
	if _, err := m.Snapshot(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("snapshot failed", "error", err)
	}
}
