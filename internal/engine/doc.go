// Package engine implements the order dispatch loop.
//
// ARCHITECTURE:
//
// Cycle:
// 1. Fetch up to BatchSize active orders (PENDING or PARTIAL) in dispatch
// order: priority DESC, created_at ASC, id ASC
// 2. Merge orders waiting in the retry backlog, dedupe, truncate
// 3. Drop orders whose user or group is disabled
// 4. Hand the rest to a fixed worker pool
// 5. Each worker re-checks flags, asks the Executor for an Outcome,
// validates it, and commits it with a conditional update
//
// Outcomes:
// - Committed: one status log row, then an OrderTransitioned event
// - Conflict: another writer moved the order first; skipped silently
// - Transient failure: requeued with an attempt count until MaxRetries,
// then FAILED with ReasonRetryBudget
// - Validation failure: FAILED with the specific reason
//
// CRITICAL PATTERNS:
//
// Conditional updates are the only coordination:
// No in-process lock guards order selection. Two engines, or a cancel
// request racing a worker, resolve through the store's optimistic lock.
//
// Fail-safe flags:
// A flag that cannot be read is treated as disabled. Such reads also count
// toward the throttle's error ratio, so an unhealthy cache slows the loop.
//
// Backpressure:
// A degraded cycle halves the batch size and doubles the interval within
// configured bounds. Healthy cycles recover additively.
package engine
