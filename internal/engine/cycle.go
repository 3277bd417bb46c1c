package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
)

// CycleReport summarizes one dispatch cycle.
type CycleReport struct {
	Seq         int64
	Fetched     int // orders returned by ListPending
	FromBacklog int // retry entries not in the fetched batch
	Dispatched  int // orders handed to workers

	Transitioned int
	Failed       int
	Exhausted    int
	Conflicts    int
	Retried      int
	Skipped      int
	Held         int

	// Degraded is true when the throttle backed off after this cycle.
	Degraded bool

	BatchSize    int           // batch size used by this cycle
	NextInterval time.Duration // delay before the next cycle
	Duration     time.Duration

	// Errors holds one retry budget error per exhausted order.
	Errors []error
}

// RunCycle executes one dispatch cycle and waits for every dispatched
// order to reach an outcome. A fetch failure returns a *RuntimeError with
// ErrCodeFetchFailed; per-order failures never fail the cycle.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if e.closed {
		return CycleReport{}, ErrStopped
	}
	e.startPool()

	start := e.now()
	batch, _ := e.throttle.current()
	rep := CycleReport{Seq: e.seq.Add(1), BatchSize: batch}

	fctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	fetched, err := e.gw.ListPending(fctx, batch)
	cancel()
	if err != nil {
		slog.Warn("fetch pending orders failed", "engine_id", e.id, "cycle", rep.Seq, "error", err)
		e.finish(&rep, start, cycleHealth{fetchFailed: true})
		return rep, NewFetchError(err)
	}

	candidates := e.merge(fetched, batch)
	rep.Fetched = len(fetched)

	var health cycleHealth
	results := make(chan result, len(candidates))

dispatch:
	for _, c := range candidates {
		if c.fromBacklog {
			rep.FromBacklog++
		}

		cctx, cancel := context.WithTimeout(ctx, e.opTimeout)
		ok, degraded := e.el.check(cctx, c.order)
		cancel()
		if !ok {
			e.tally(&rep, &health, result{orderID: c.order.ID, outcome: metrics.OutcomeSkipped, degraded: degraded})
			continue
		}

		tk := task{order: c.order, attempts: c.attempts, seq: rep.Seq, result: results}
		select {
		case e.tasks <- tk:
			rep.Dispatched++
		case <-e.t.Dying():
			break dispatch
		}
	}

	for i := 0; i < rep.Dispatched; i++ {
		e.tally(&rep, &health, <-results)
	}

	e.finish(&rep, start, health)

	slog.Debug("cycle complete",
		"engine_id", e.id,
		"cycle", rep.Seq,
		"fetched", rep.Fetched,
		"dispatched", rep.Dispatched,
		"transitioned", rep.Transitioned,
		"conflicts", rep.Conflicts,
		"retried", rep.Retried,
		"skipped", rep.Skipped,
		"duration", rep.Duration,
	)
	return rep, nil
}

type candidate struct {
	order       model.Order
	attempts    int
	fromBacklog bool
}

// merge combines the fetched batch with the retry backlog. A fetched copy
// wins over a backlog copy of the same order since it is fresher; the
// backlog's attempt count is kept.
func (e *Engine) merge(fetched []model.Order, limit int) []candidate {
	seen := make(map[int64]bool, len(fetched))
	out := make([]candidate, 0, len(fetched))

	for _, o := range fetched {
		seen[o.ID] = true
		out = append(out, candidate{order: o, attempts: e.backlog.attempts(o.ID)})
	}
	for _, item := range e.backlog.head(limit) {
		if seen[item.order.ID] {
			continue
		}
		out = append(out, candidate{order: item.order, attempts: item.attempts, fromBacklog: true})
	}

	sort.Slice(out, func(i, j int) bool {
		return dispatchLess(out[i].order, out[j].order)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) tally(rep *CycleReport, h *cycleHealth, r result) {
	if r.outcome != metrics.OutcomeSkipped || r.degraded {
		h.attempts++
	}
	if r.errored || r.degraded {
		h.errors++
	}
	if r.degraded {
		e.counts.degraded.Add(1)
		if e.metrics != nil {
			e.metrics.CacheDegraded.Inc()
		}
	}

	switch r.outcome {
	case metrics.OutcomeTransitioned:
		rep.Transitioned++
		e.counts.processed.Add(1)
	case metrics.OutcomeFailed:
		rep.Failed++
		e.counts.processed.Add(1)
		e.counts.failed.Add(1)
	case metrics.OutcomeExhausted:
		rep.Exhausted++
		rep.Failed++
		e.counts.processed.Add(1)
		e.counts.failed.Add(1)
		e.counts.exhausted.Add(1)
	case metrics.OutcomeConflict:
		rep.Conflicts++
		e.counts.conflicts.Add(1)
	case metrics.OutcomeRetried:
		rep.Retried++
		e.counts.retried.Add(1)
	case metrics.OutcomeSkipped:
		rep.Skipped++
		e.counts.skipped.Add(1)
	case metrics.OutcomeHeld:
		rep.Held++
		e.counts.held.Add(1)
	}
	if r.err != nil {
		rep.Errors = append(rep.Errors, r.err)
	}

	if e.metrics != nil {
		e.metrics.OrdersProcessed.WithLabelValues(r.outcome).Inc()
		if r.to != "" {
			e.metrics.Transitions.WithLabelValues(string(r.from), string(r.to)).Inc()
		}
	}
}

// finish feeds the cycle's health to the throttle and records timing.
func (e *Engine) finish(rep *CycleReport, start time.Time, h cycleHealth) {
	rep.Degraded = e.throttle.observe(h)
	if rep.Degraded {
		batch, interval := e.throttle.current()
		slog.Warn("engine backing off",
			"engine_id", e.id,
			"cycle", rep.Seq,
			"errors", h.errors,
			"attempts", h.attempts,
			"fetch_failed", h.fetchFailed,
			"batch_size", batch,
			"interval", interval,
		)
	}

	batch, interval := e.throttle.current()
	rep.NextInterval = interval
	rep.Duration = e.now().Sub(start)
	e.counts.cycles.Add(1)

	if e.metrics != nil {
		e.metrics.Cycles.Inc()
		e.metrics.CycleDuration.Observe(rep.Duration.Seconds())
		e.metrics.BatchSize.Set(float64(batch))
		e.metrics.IntervalSeconds.Set(interval.Seconds())
		e.metrics.BacklogSize.Set(float64(e.backlog.len()))
	}
}
