package testutil

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/store"
)

// ErrInjected is the cause of every fault injected by FaultyGateway.
var ErrInjected = errors.New("injected transport failure")

// FaultyGateway wraps a store and fails a fraction of AdvanceOrder calls
// with a *store.TransportError.
//
// Half of the injected faults happen before the write reaches the store.
// The other half happen after it committed, so the caller sees an error
// for a write that actually landed.
type FaultyGateway struct {
	*store.Store

	mu   sync.Mutex
	rng  *rand.Rand
	rate float64

	failFetch atomic.Bool
	injected  atomic.Int64
	landed    atomic.Int64
}

// NewFaultyGateway fails AdvanceOrder with probability rate, using a
// seeded source so runs are reproducible.
func NewFaultyGateway(s *store.Store, rate float64, seed int64) *FaultyGateway {
	return &FaultyGateway{
		Store: s,
		rng:   rand.New(rand.NewSource(seed)),
		rate:  rate,
	}
}

// SetFailFetch makes every ListPending call fail until cleared.
func (g *FaultyGateway) SetFailFetch(fail bool) {
	g.failFetch.Store(fail)
}

// Injected returns how many faults were injected.
func (g *FaultyGateway) Injected() int64 {
	return g.injected.Load()
}

// Landed returns how many injected faults hid a committed write.
func (g *FaultyGateway) Landed() int64 {
	return g.landed.Load()
}

func (g *FaultyGateway) ListPending(ctx context.Context, limit int) ([]model.Order, error) {
	if g.failFetch.Load() {
		g.injected.Add(1)
		return nil, &store.TransportError{Op: "list pending", Err: ErrInjected}
	}
	return g.Store.ListPending(ctx, limit)
}

func (g *FaultyGateway) AdvanceOrder(ctx context.Context, tr model.Transition) (model.StatusLog, error) {
	fault, after := g.roll()
	if !fault {
		return g.Store.AdvanceOrder(ctx, tr)
	}

	g.injected.Add(1)
	if after {
		if _, err := g.Store.AdvanceOrder(ctx, tr); err == nil {
			g.landed.Add(1)
		}
	}
	return model.StatusLog{}, &store.TransportError{Op: "advance order", Err: ErrInjected}
}

func (g *FaultyGateway) roll() (fault, after bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rng.Float64() >= g.rate {
		return false, false
	}
	return true, g.rng.Intn(2) == 1
}
