package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/ordermon/internal/model"
)

// Kind distinguishes event payloads.
type Kind string

const (
	KindOrderTransitioned Kind = "order.transitioned"
	KindFlagChanged       Kind = "flag.changed"
	KindEntityAdded       Kind = "entity.added"
)

// OrderTransitioned is published after a status transition commits.
type OrderTransitioned struct {
	Log     model.StatusLog `json:"log"`
	UserID  int64           `json:"user_id"`
	GroupID int64           `json:"group_id"`
}

// FlagChanged is published after the monitor observes a flag flip.
type FlagChanged struct {
	Change model.FlagChange `json:"change"`
}

// EntityAdded is published when a user or group appears after the
// monitor's first pass.
type EntityAdded struct {
	Flag model.Flag `json:"flag"`
}

// Event is the unit of fan-out. Exactly one payload pointer is set,
// matching Kind.
type Event struct {
	ID    string             `json:"id"`
	Kind  Kind               `json:"kind"`
	At    time.Time          `json:"at"`
	Order *OrderTransitioned `json:"order,omitempty"`
	Flag  *FlagChanged       `json:"flag,omitempty"`
	Added *EntityAdded       `json:"added,omitempty"`
}

// NewOrderTransitioned builds a transition event for a committed log row.
func NewOrderTransitioned(log model.StatusLog, userID, groupID int64) Event {
	return Event{
		ID:    newID(),
		Kind:  KindOrderTransitioned,
		At:    log.CreatedAt,
		Order: &OrderTransitioned{Log: log, UserID: userID, GroupID: groupID},
	}
}

// NewFlagChanged builds a flag change event.
func NewFlagChanged(c model.FlagChange) Event {
	return Event{
		ID:   newID(),
		Kind: KindFlagChanged,
		At:   c.At,
		Flag: &FlagChanged{Change: c},
	}
}

// NewEntityAdded builds an event for a newly seen user or group.
func NewEntityAdded(f model.Flag, at time.Time) Event {
	return Event{
		ID:    newID(),
		Kind:  KindEntityAdded,
		At:    at,
		Added: &EntityAdded{Flag: f},
	}
}

// newID returns a time-ordered UUIDv7, falling back to a random v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
