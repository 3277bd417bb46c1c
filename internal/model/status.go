package model

import "fmt"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// AllStatuses lists every lifecycle value in declaration order.
var AllStatuses = []Status{
	StatusPending,
	StatusPartial,
	StatusFilled,
	StatusCancelled,
	StatusFailed,
}

// ActiveStatuses are the statuses the engine selects for processing.
var ActiveStatuses = []Status{StatusPending, StatusPartial}

// Valid reports whether s is one of the five lifecycle values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusFilled, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are accepted from s.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

// ParseStatus converts a stored string to a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether the lifecycle allows from -> to.
//
//	PENDING -> PARTIAL | FILLED | CANCELLED | FAILED
//	PARTIAL -> PARTIAL | FILLED | CANCELLED | FAILED
//
// PARTIAL -> PARTIAL is a further partial fill. Nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	switch to {
	case StatusPartial, StatusFilled, StatusCancelled, StatusFailed:
		return true
	default:
		// PENDING is never a target.
		return false
	}
}
