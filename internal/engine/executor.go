package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// Outcome is an executor's decision for one order.
type Outcome struct {
	// To is the proposed next status.
	To model.Status

	// Filled is the proposed cumulative filled quantity.
	Filled decimal.Decimal

	// Reason is recorded in the status log.
	Reason string

	// Hold leaves the order untouched for this cycle.
	Hold bool
}

// HoldOutcome leaves the order unchanged.
func HoldOutcome() Outcome {
	return Outcome{Hold: true}
}

// Executor decides how far an order advances. It stands in for the
// external trading logic and is called once per dispatched order.
//
// Returning a *model.ValidationError fails the order with its reason.
// Any other error is treated as transient and the order is retried.
type Executor interface {
	Advance(ctx context.Context, o model.Order) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, o model.Order) (Outcome, error)

func (f ExecutorFunc) Advance(ctx context.Context, o model.Order) (Outcome, error) {
	return f(ctx, o)
}

// FullFill fills every order completely in one step.
type FullFill struct{}

func (FullFill) Advance(ctx context.Context, o model.Order) (Outcome, error) {
	return Outcome{To: model.StatusFilled, Filled: o.Quantity, Reason: "filled"}, nil
}

// StepFill fills a fixed quantity per cycle, going PARTIAL until the
// remainder fits in one step.
type StepFill struct {
	step decimal.Decimal
}

// NewStepFill returns a StepFill executor. step must be positive.
func NewStepFill(step decimal.Decimal) (*StepFill, error) {
	if !step.IsPositive() {
		return nil, fmt.Errorf("step fill: step must be positive, got %s", step)
	}
	return &StepFill{step: step}, nil
}

func (s *StepFill) Advance(ctx context.Context, o model.Order) (Outcome, error) {
	next := o.Filled.Add(s.step)
	if next.GreaterThanOrEqual(o.Quantity) {
		return Outcome{To: model.StatusFilled, Filled: o.Quantity, Reason: "filled"}, nil
	}
	return Outcome{To: model.StatusPartial, Filled: next, Reason: "partial fill"}, nil
}
