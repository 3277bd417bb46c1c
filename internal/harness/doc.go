// Package harness runs end-to-end scenarios against a real store, a
// miniredis-backed cache, the dispatch engine and the flag monitor.
//
// # Scenario Format
//
// Scenarios are YAML files under testdata/scenarios:
//
//	name: disabled_group_skipped
//	description: "Orders in a disabled group are never advanced"
//	fixture:
//	  users: 2
//	  groups_per_user: 2
//	  orders: 8
//	engine:
//	  executor: step
//	  step: "5"
//	faults:
//	  rate: 0.1
//	  seed: 42
//	steps:
//	  - action: disable_group
//	    group: 0
//	  - action: drain
//	assertions:
//	  - type: status_count
//	    status: FILLED
//	    count: 6
//	  - type: invariants
//
// Steps index into the seeded users, groups and orders, which are created
// in order with ids starting at 1. Orders are spread round-robin across
// groups.
//
// # Step Actions
//
//   - cycle, drain: run one (or count) engine cycles, or cycle until nothing is dispatched
//   - reconcile: run one monitor pass
//   - disable_user, enable_user, disable_group, enable_group: flip a flag in the store
//   - cancel_order: cancel an order directly in the store
//   - cache_down, cache_up: make every cache command fail, or recover
//   - fetch_down, fetch_up: make the pending-order fetch fail, or recover
//
// # Assertion Types
//
//   - status_count: number of orders in a status
//   - order_status: one seeded order's status
//   - flag_changes: flips recorded by reconcile passes, and in the log table
//   - events: published events of a kind
//   - cycles: number of cycles run
//   - invariants: lifecycle invariants hold for every order
//
// # Deterministic Testing
//
// The engine runs one worker by default and the store uses a
// deterministic clock, so a scenario without faults produces the same
// snapshot on every run. The snapshot is compared to
// testdata/golden/<name>.golden.
package harness
