// Package events implements the in-process event dispatcher.
//
// The engine publishes OrderTransitioned after every committed status
// transition; the status monitor publishes FlagChanged after every observed
// enable-flag flip. Reactions (see package reaction) consume them.
//
// Delivery guarantees:
//   - Each registered reaction receives each event exactly once, in publish order
//   - Publish only enqueues; it never waits for a reaction
//   - A reaction's error or panic is logged and counted, never propagated
//   - Close flushes every queue before returning, bounded by its context
//
// Reaction goroutines are supervised by a tomb.Tomb; Close kills the tomb
// only when its context expires.
package events
