package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/store"
)

// CheckOrderInvariants verifies every stored order against the lifecycle
// rules and its status log. It returns one message per violation.
//
// Per order (a defective row only has to be FAILED):
//   - 0 <= filled <= quantity
//   - PENDING has nothing filled, PARTIAL is strictly between, FILLED is full
//   - the log chains from (PENDING, 0) to the current (status, filled),
//     every step is a legal transition, and nothing follows a terminal state
func CheckOrderInvariants(ctx context.Context, s *store.Store, orders []model.Order) []string {
	var violations []string
	report := func(o model.Order, format string, args ...any) {
		violations = append(violations, fmt.Sprintf("order %d: ", o.ID)+fmt.Sprintf(format, args...))
	}

	for _, o := range orders {
		if o.Defect != "" {
			// Its stored values are unreliable; it only has to be failed.
			if o.Status != model.StatusFailed {
				report(o, "defective row left %s: %s", o.Status, o.Defect)
			}
			continue
		}
		if o.Filled.IsNegative() || o.Filled.GreaterThan(o.Quantity) {
			report(o, "filled %s outside [0, %s]", o.Filled, o.Quantity)
		}
		switch o.Status {
		case model.StatusPending:
			if !o.Filled.IsZero() {
				report(o, "PENDING with filled %s", o.Filled)
			}
		case model.StatusPartial:
			if !o.Filled.IsPositive() || !o.Filled.LessThan(o.Quantity) {
				report(o, "PARTIAL with filled %s of %s", o.Filled, o.Quantity)
			}
		case model.StatusFilled:
			if !o.Filled.Equal(o.Quantity) {
				report(o, "FILLED with filled %s of %s", o.Filled, o.Quantity)
			}
		}

		logs, err := s.StatusLogs(ctx, o.ID)
		if err != nil {
			report(o, "read status log: %v", err)
			continue
		}

		status, filled := model.StatusPending, decimal.Zero
		for i, l := range logs {
			if status.Terminal() {
				report(o, "log %d follows terminal %s", i, status)
			}
			if l.OldStatus != status || !l.OldFilled.Equal(filled) {
				report(o, "log %d starts at (%s, %s), expected (%s, %s)", i, l.OldStatus, l.OldFilled, status, filled)
			}
			if !model.CanTransition(l.OldStatus, l.NewStatus) {
				report(o, "log %d is illegal %s -> %s", i, l.OldStatus, l.NewStatus)
			}
			if l.NewFilled.LessThan(l.OldFilled) {
				report(o, "log %d decreases filled %s -> %s", i, l.OldFilled, l.NewFilled)
			}
			status, filled = l.NewStatus, l.NewFilled
		}
		if status != o.Status || !filled.Equal(o.Filled) {
			report(o, "log ends at (%s, %s), order is (%s, %s)", status, filled, o.Status, o.Filled)
		}
	}
	return violations
}

// RequireOrderInvariants fails the test if any stored order violates
// CheckOrderInvariants.
func RequireOrderInvariants(t testing.TB, s *store.Store) {
	t.Helper()
	violations := CheckOrderInvariants(context.Background(), s, AllOrders(t, s))
	for _, v := range violations {
		t.Error(v)
	}
	if len(violations) > 0 {
		t.FailNow()
	}
}
