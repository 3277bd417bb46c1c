// Package cache provides the Redis-backed hot cache for ordermon.
//
// The cache holds the engine's working copy of every enable flag, the
// latest monitor snapshot, per-order status entries, a bounded notification
// list, and the control channel used by the operational CLI.
//
// # Key Layout
//
//	flag:user:<id>      hash {enabled: 0|1, gen: n}   TTL, slides on read
//	flag:group:<id>     hash {enabled: 0|1, gen: n}   TTL, slides on read
//	stats:monitor       hash of aggregate counters
//	order:status:<id>   hash {status, filled, reason, updated_at}   TTL
//	notifications       list, newest first, trimmed
//	ordermon:control    pub/sub channel: "stop" | "refresh"
//
// # Consistency
//
// SetFlags writes a whole batch inside one MULTI/EXEC, so readers observe
// either none or all of a batch. gen is bumped on every write of a key.
//
// Flag reads fail safe: if Redis errors or ReadTimeout elapses, GetFlag
// reports the entity as disabled together with the error. A miss
// (found=false) is not an error; the caller decides whether to read through
// to the store.
package cache
