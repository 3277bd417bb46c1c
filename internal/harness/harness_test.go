package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/model"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			result := RunWithGolden(t, sc)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_StopsAtFirstFailingStep(t *testing.T) {
	sc := mustParse(t, `
name: bad_drain
description: "a drain bounded to one cycle cannot settle while fetches fail"
fixture:
  users: 1
  groups_per_user: 1
  orders: 2
steps:
  - action: fetch_down
  - action: drain
    max: 1
  - action: disable_user
    user: 0
assertions:
  - type: invariants
`)

	result := Run(t, sc)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] drain")
	assert.Contains(t, result.Errors[0], "did not settle within 1 cycles")
	require.Len(t, result.Snapshot.Cycles, 1)
	assert.True(t, result.Snapshot.Cycles[0].FetchFailed)
	assert.Equal(t, 2, result.Snapshot.Statuses[model.StatusPending])
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	sc := mustParse(t, `
name: wrong_expectations
description: "assertions that do not match what happened"
fixture:
  users: 1
  groups_per_user: 1
  orders: 3
steps:
  - action: drain
assertions:
  - type: status_count
    status: FILLED
    count: 2
  - type: order_status
    order: 0
    status: PENDING
  - type: events
    kind: order.transitioned
    count: 3
`)

	result := Run(t, sc)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion 0 (status_count): expected 2 FILLED orders, got 3")
	assert.Contains(t, result.Errors[1], "assertion 1 (order_status)")
	assert.Contains(t, result.Errors[1], "expected status PENDING, got FILLED")
	assert.Equal(t, 3, result.Snapshot.Events[events.KindOrderTransitioned])
}

func TestRun_ReconcileWithoutChangesRecordsNothing(t *testing.T) {
	sc := mustParse(t, `
name: quiet_reconcile
description: "repeated passes over unchanged flags record no flips"
fixture:
  users: 2
  groups_per_user: 2
  orders: 0
steps:
  - action: reconcile
  - action: reconcile
assertions:
  - type: flag_changes
    count: 0
  - type: events
    kind: flag.changed
    count: 0
`)

	result := Run(t, sc)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Snapshot.FlagChanges)
	assert.Empty(t, result.Snapshot.Cycles)
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return sc
}
