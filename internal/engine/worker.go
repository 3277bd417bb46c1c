package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/store"
)

// task is one order handed to a worker.
type task struct {
	order    model.Order
	attempts int
	seq      int64
	result   chan<- result
}

// result is a worker's verdict on one task. outcome is one of the
// metrics.Outcome* labels.
type result struct {
	orderID  int64
	outcome  string
	from, to model.Status
	failed   bool // a committed transition to FAILED
	errored  bool // the attempt hit a transient failure
	degraded bool // flag resolution fell back to disabled on error
	err      error
}

// startPool launches the workers once. The tomb dies when every worker
// has returned, which happens after tasks is closed or the tomb is killed.
func (e *Engine) startPool() {
	e.startOnce.Do(func() {
		for i := 0; i < e.workers; i++ {
			id := i
			e.t.Go(func() error {
				return e.worker(id)
			})
		}
	})
}

func (e *Engine) worker(id int) error {
	slog.Debug("engine worker started", "engine_id", e.id, "worker", id)
	for {
		select {
		case <-e.t.Dying():
			return nil
		case tk, ok := <-e.tasks:
			if !ok {
				return nil
			}
			tk.result <- e.process(tk)
		}
	}
}

// opContext bounds one order's round trips. It derives from the tomb, not
// the caller, so a draining shutdown lets in-flight orders finish.
func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.t.Context(nil), e.opTimeout)
}

// process drives one order to a single outcome.
func (e *Engine) process(tk task) result {
	o := tk.order
	ctx, cancel := e.opContext()
	defer cancel()

	if o.Defect != "" {
		return e.fail(ctx, tk, o.Defect)
	}

	out, err := e.exec.Advance(ctx, o)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return e.fail(ctx, tk, ve.Reason)
		}
		return e.retry(tk, err)
	}

	if out.Hold {
		e.backlog.remove(o.ID)
		return result{orderID: o.ID, outcome: metrics.OutcomeHeld}
	}

	tr := model.TransitionFrom(o, out.To, out.Filled, out.Reason)
	if err := tr.Validate(o.Quantity); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return e.fail(ctx, tk, ve.Reason)
		}
		// Terminal snapshot: another writer already finished the order.
		e.backlog.remove(o.ID)
		return result{orderID: o.ID, outcome: metrics.OutcomeConflict}
	}

	return e.commit(ctx, tk, tr)
}

// admit re-checks the order's flags immediately before a write. They may
// have flipped since the cycle filtered the order or while the executor ran.
func (e *Engine) admit(ctx context.Context, o model.Order) (result, bool) {
	if ok, degraded := e.el.check(ctx, o); !ok {
		return result{orderID: o.ID, outcome: metrics.OutcomeSkipped, degraded: degraded}, false
	}
	return result{}, true
}

// fail marks the order FAILED with a validation reason.
func (e *Engine) fail(ctx context.Context, tk task, reason string) result {
	o := tk.order
	if r, ok := e.admit(ctx, o); !ok {
		return r
	}
	slog.Warn("order failed validation",
		"order_id", o.ID,
		"status", o.Status,
		"reason", reason,
	)
	log, err := e.markFailed(ctx, o, reason)
	return e.settle(tk, log, err)
}

// markFailed commits o to FAILED. A defective row keeps its stored
// quantities.
func (e *Engine) markFailed(ctx context.Context, o model.Order, reason string) (model.StatusLog, error) {
	if o.Defect != "" {
		return e.gw.FailOrder(ctx, o.ID, o.Status, reason)
	}
	return e.gw.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusFailed, o.Filled, reason))
}

func (e *Engine) commit(ctx context.Context, tk task, tr model.Transition) result {
	if r, ok := e.admit(ctx, tk.order); !ok {
		return r
	}
	log, err := e.gw.AdvanceOrder(ctx, tr)
	return e.settle(tk, log, err)
}

// settle turns a write's outcome into the task's result.
func (e *Engine) settle(tk task, log model.StatusLog, err error) result {
	o := tk.order
	switch {
	case err == nil:
		e.backlog.remove(o.ID)
		e.publish(log, o)

		outcome := metrics.OutcomeTransitioned
		if log.NewStatus == model.StatusFailed {
			outcome = metrics.OutcomeFailed
		}
		slog.Debug("order advanced",
			"order_id", o.ID,
			"from", log.OldStatus,
			"to", log.NewStatus,
			"filled", log.NewFilled.String(),
			"cycle", tk.seq,
		)
		return result{
			orderID: o.ID,
			outcome: outcome,
			from:    log.OldStatus,
			to:      log.NewStatus,
			failed:  log.NewStatus == model.StatusFailed,
		}

	case store.IsConflict(err):
		e.backlog.remove(o.ID)
		slog.Debug("order changed concurrently, skipping",
			"order_id", o.ID,
			"expected_status", o.Status,
			"expected_filled", o.StoredFilled,
		)
		return result{orderID: o.ID, outcome: metrics.OutcomeConflict}

	default:
		return e.retry(tk, err)
	}
}

// retry requeues the order, or fails it once the retry budget is spent.
func (e *Engine) retry(tk task, cause error) result {
	o := tk.order
	attempts := tk.attempts + 1

	if attempts <= e.maxRetries {
		e.backlog.push(o, attempts)
		slog.Warn("order requeued after transient failure",
			"order_id", o.ID,
			"attempts", attempts,
			"retryable", store.IsRetryable(cause),
			"error", cause,
		)
		return result{orderID: o.ID, outcome: metrics.OutcomeRetried, errored: true}
	}

	ctx, cancel := e.opContext()
	defer cancel()

	log, err := e.markFailed(ctx, o, ReasonRetryBudget)
	switch {
	case err == nil:
		e.backlog.remove(o.ID)
		e.publish(log, o)
		budgetErr := NewRetryBudgetError(o.ID, attempts, cause)
		slog.Warn("order exceeded retry budget",
			"order_id", o.ID,
			"attempts", attempts,
			"error", cause,
		)
		return result{
			orderID: o.ID,
			outcome: metrics.OutcomeExhausted,
			from:    log.OldStatus,
			to:      log.NewStatus,
			failed:  true,
			errored: true,
			err:     budgetErr,
		}

	case store.IsConflict(err):
		e.backlog.remove(o.ID)
		return result{orderID: o.ID, outcome: metrics.OutcomeConflict, errored: true}

	default:
		// Keep it queued; the next cycle tries to fail it again.
		e.backlog.push(o, attempts)
		slog.Error("mark exhausted order failed",
			"order_id", o.ID,
			"attempts", attempts,
			"error", err,
		)
		return result{orderID: o.ID, outcome: metrics.OutcomeRetried, errored: true}
	}
}
