package model

import (
	"errors"
	"fmt"
)

// ErrTerminal is returned when a transition is attempted out of a terminal
// state. Callers treat it as a conflict, not a failure.
var ErrTerminal = errors.New("order is in a terminal state")

// ValidationError describes malformed order data or an illegal proposed
// transition. The engine resolves it by marking the order FAILED with Reason.
type ValidationError struct {
	OrderID int64
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order %d: %s", e.OrderID, e.Reason)
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
