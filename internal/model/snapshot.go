package model

import "time"

// Snapshot is a point-in-time aggregate of the system, produced by the
// status monitor and published to the cache for external readers.
type Snapshot struct {
	At           time.Time        `json:"at"`
	ActiveUsers  int              `json:"active_users"`
	ActiveGroups int              `json:"active_groups"`
	Orders       map[Status]int   `json:"orders"`
	Counters     map[string]int64 `json:"counters,omitempty"`
}
