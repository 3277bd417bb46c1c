package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/config"
	"github.com/roach88/ordermon/internal/engine"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/monitor"
	"github.com/roach88/ordermon/internal/store"
	"github.com/roach88/ordermon/internal/testutil"
)

const shutdownTimeout = 10 * time.Second

// runner holds one scenario's components. Every run gets a fresh store
// and cache.
type runner struct {
	store  *store.Store
	cache  *cache.Cache
	redis  *miniredis.Miniredis
	gw     *testutil.FaultyGateway
	engine *engine.Engine
	mon    *monitor.Monitor
	seeded testutil.Seeded

	res *Result
}

// eventCounter counts published events by kind.
type eventCounter struct {
	mu     sync.Mutex
	counts map[events.Kind]int
}

func (c *eventCounter) Handle(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[e.Kind]++
	return nil
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Open a fresh store and miniredis-backed cache, with a deterministic clock
// 2. Seed the fixture
// 3. Execute steps in order, stopping at the first failing step
// 4. Drain the engine and flush events
// 5. Build the snapshot and evaluate assertions against it
func Run(t testing.TB, scenario *Scenario) *Result {
	t.Helper()
	ctx := context.Background()

	clock := testutil.NewDeterministicClock(time.Time{}, time.Millisecond)
	st := testutil.OpenStore(t, store.WithClock(clock.Now))
	c, mr := testutil.OpenCache(t)

	fx, err := scenario.Fixture.fixture()
	require.NoError(t, err)

	counter := &eventCounter{counts: make(map[events.Kind]int)}
	disp := events.NewDispatcher()
	require.NoError(t, disp.Register("count", counter))

	exec, err := newExecutor(scenario.Engine)
	require.NoError(t, err)

	r := &runner{
		store:  st,
		cache:  c,
		redis:  mr,
		seeded: testutil.Seed(t, st, fx),
		gw:     testutil.NewFaultyGateway(st, scenario.Faults.Rate, scenario.Faults.Seed),
		res:    NewResult(scenario.Name),
	}
	r.engine = engine.New(r.gw, c, exec, disp,
		engine.WithWorkers(scenario.Engine.Workers),
		engine.WithBatchSize(scenario.Engine.BatchSize),
		engine.WithMinBatchSize(scenario.Engine.MinBatchSize),
		engine.WithMaxRetries(scenario.Engine.MaxRetries),
		engine.WithOpTimeout(scenario.Engine.OpTimeout),
		engine.WithErrorThreshold(scenario.Engine.ErrorThreshold),
		engine.WithClock(clock.Now),
	)
	r.mon = monitor.New(st, c, disp, monitor.WithClock(clock.Now), monitor.WithCounters(r.engine))

	for i, step := range scenario.Steps {
		if err := r.do(ctx, step); err != nil {
			r.res.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action, err))
			break
		}
	}

	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := r.engine.Shutdown(sctx); err != nil {
		r.res.AddError(fmt.Sprintf("engine shutdown: %v", err))
	}
	if err := disp.Close(sctx); err != nil {
		r.res.AddError(fmt.Sprintf("event flush: %v", err))
	}

	counter.mu.Lock()
	for _, kind := range []events.Kind{events.KindOrderTransitioned, events.KindFlagChanged} {
		r.res.Snapshot.Events[kind] = counter.counts[kind]
	}
	if n := counter.counts[events.KindEntityAdded]; n > 0 {
		r.res.Snapshot.Events[events.KindEntityAdded] = n
	}
	counter.mu.Unlock()

	if err := r.capture(ctx, t, scenario.RecordOrders); err != nil {
		r.res.AddError(fmt.Sprintf("capture final state: %v", err))
		return r.res
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Seeded: r.seeded}
	for _, msg := range EvaluateAssertions(r.res, scenario.Assertions, actx) {
		r.res.AddError(msg)
	}
	return r.res
}

func (r *runner) do(ctx context.Context, step Step) error {
	switch step.Action {
	case StepCycle:
		n := max(1, step.Count)
		for i := 0; i < n; i++ {
			if _, err := r.cycle(ctx); err != nil {
				return err
			}
		}
		return nil

	case StepDrain:
		limit := step.Max
		if limit == 0 {
			limit = DefaultDrainMax
		}
		for i := 0; i < limit; i++ {
			sum, err := r.cycle(ctx)
			if err != nil {
				return err
			}
			if !sum.FetchFailed && sum.Dispatched == 0 && r.engine.Stats().Backlog == 0 {
				return nil
			}
		}
		return fmt.Errorf("engine did not settle within %d cycles", limit)

	case StepReconcile:
		res, err := r.mon.Reconcile(ctx)
		if err != nil {
			return err
		}
		for _, c := range res.Changes {
			r.res.Snapshot.FlagChanges = append(r.res.Snapshot.FlagChanges,
				FlagChangeSummary{Key: c.Key.String(), Old: c.Old, New: c.New})
		}
		return nil

	case StepDisableUser, StepEnableUser:
		return r.store.SetUserEnabled(ctx, r.seeded.Users[*step.User].ID, step.Action == StepEnableUser)
	case StepDisableGroup, StepEnableGroup:
		return r.store.SetGroupEnabled(ctx, r.seeded.Groups[*step.Group].ID, step.Action == StepEnableGroup)
	case StepCancelOrder:
		_, err := r.store.CancelOrder(ctx, r.seeded.Orders[*step.Order].ID, "cancelled by operator")
		return err

	case StepCacheDown:
		r.redis.SetError("ERR injected failure")
		return nil
	case StepCacheUp:
		r.redis.SetError("")
		return nil
	case StepFetchDown:
		r.gw.SetFailFetch(true)
		return nil
	case StepFetchUp:
		r.gw.SetFailFetch(false)
		return nil
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// cycle runs one engine cycle and records its summary. A fetch failure is
// recorded, not returned.
func (r *runner) cycle(ctx context.Context) (CycleSummary, error) {
	rep, err := r.engine.RunCycle(ctx)
	var rerr *engine.RuntimeError
	fetchFailed := errors.As(err, &rerr) && rerr.Code == engine.ErrCodeFetchFailed
	if err != nil && !fetchFailed {
		return CycleSummary{}, err
	}
	sum := summarizeCycle(rep, fetchFailed)
	r.res.Snapshot.Cycles = append(r.res.Snapshot.Cycles, sum)
	return sum, nil
}

// capture fills the snapshot's final order state.
func (r *runner) capture(ctx context.Context, t testing.TB, withOrders bool) error {
	counts, err := r.store.CountOrdersByStatus(ctx)
	if err != nil {
		return err
	}
	for _, s := range model.AllStatuses {
		r.res.Snapshot.Statuses[s] = counts[s]
	}
	if !withOrders {
		return nil
	}

	orders := testutil.AllOrders(t, r.store)
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for _, o := range orders {
		logs, err := r.store.StatusLogs(ctx, o.ID)
		if err != nil {
			return err
		}
		r.res.Snapshot.Orders = append(r.res.Snapshot.Orders, OrderSummary{
			ID:          o.ID,
			Status:      o.Status,
			Filled:      o.Filled.String(),
			Transitions: len(logs),
		})
	}
	return nil
}

func newExecutor(cfg config.Engine) (engine.Executor, error) {
	switch cfg.Executor {
	case "full":
		return engine.FullFill{}, nil
	case "step":
		step, err := cfg.StepQuantity()
		if err != nil {
			return nil, err
		}
		return engine.NewStepFill(step)
	}
	return nil, fmt.Errorf("engine.executor must be \"full\" or \"step\", got %q", cfg.Executor)
}
