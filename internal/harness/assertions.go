package harness

import (
	"context"
	"fmt"

	"github.com/roach88/ordermon/internal/store"
	"github.com/roach88/ordermon/internal/testutil"
)

// AssertionContext provides what assertions need beyond the result.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Seeded testutil.Seeded
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. An empty slice means all assertions passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	snap := &result.Snapshot
	switch a.Type {
	case AssertStatusCount:
		return expectCount(fmt.Sprintf("%s orders", a.Status), a.Count, snap.Statuses[a.Status])

	case AssertOrderStatus:
		if *a.Order >= len(actx.Seeded.Orders) {
			return fmt.Errorf("order index %d out of range", *a.Order)
		}
		id := actx.Seeded.Orders[*a.Order].ID
		o, err := actx.Store.GetOrder(actx.Ctx, id)
		if err != nil {
			return fmt.Errorf("load order %d: %w", id, err)
		}
		if o.Status != a.Status {
			return fmt.Errorf("order %d: expected status %s, got %s", id, a.Status, o.Status)
		}
		return nil

	case AssertFlagChanges:
		if err := expectCount("flag changes", a.Count, len(snap.FlagChanges)); err != nil {
			return err
		}
		logged, err := actx.Store.RecentFlagChanges(actx.Ctx, a.Count+1)
		if err != nil {
			return fmt.Errorf("load flag change log: %w", err)
		}
		return expectCount("logged flag changes", a.Count, len(logged))

	case AssertEvents:
		return expectCount(fmt.Sprintf("%s events", a.Kind), a.Count, snap.Events[a.Kind])

	case AssertCycles:
		return expectCount("cycles", a.Count, len(snap.Cycles))

	case AssertInvariants:
		orders, _, err := actx.Store.ListOrders(actx.Ctx, store.OrderFilter{Limit: len(actx.Seeded.Orders) + 1})
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		if violations := testutil.CheckOrderInvariants(actx.Ctx, actx.Store, orders); len(violations) > 0 {
			return fmt.Errorf("%d violations: %v", len(violations), violations)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func expectCount(what string, want, got int) error {
	if want != got {
		return fmt.Errorf("expected %d %s, got %d", want, what, got)
	}
	return nil
}
