package engine

import (
	"errors"
	"fmt"
)

// ReasonRetryBudget is the status log reason recorded when an order is
// failed after exhausting its retry budget.
const ReasonRetryBudget = "processing error exceeded retry budget"

var (
	// ErrRetryBudget matches any RuntimeError with ErrCodeRetryBudget.
	ErrRetryBudget = errors.New(ReasonRetryBudget)

	// ErrStopped is returned by RunCycle after Shutdown.
	ErrStopped = errors.New("engine stopped")
)

// RuntimeError represents an error detected while processing an order.
//
// Runtime errors include:
//   - Retry budget exceeded: transient failures outlasted MaxRetries
//   - Fetch failed: the pending-order query could not be served
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// OrderID identifies the affected order, zero for cycle-level errors.
	OrderID int64

	// Attempts is the number of failed processing attempts so far.
	Attempts int

	// Err is the last underlying failure.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRetryBudget indicates an order was failed after MaxRetries.
	ErrCodeRetryBudget RuntimeErrorCode = "RETRY_BUDGET_EXCEEDED"

	// ErrCodeFetchFailed indicates the batch fetch failed.
	ErrCodeFetchFailed RuntimeErrorCode = "FETCH_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OrderID != 0 {
		msg += fmt.Sprintf(" (order=%d, attempts=%d)", e.OrderID, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRetryBudget) match retry budget errors.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrRetryBudget && e.Code == ErrCodeRetryBudget
}

// IsRetryBudgetError returns true if the error is a retry budget error.
// Uses errors.As to handle wrapped errors.
func IsRetryBudgetError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRetryBudget
	}
	return false
}

// NewRetryBudgetError creates a RuntimeError for an exhausted order.
func NewRetryBudgetError(orderID int64, attempts int, last error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeRetryBudget,
		Message:  ReasonRetryBudget,
		OrderID:  orderID,
		Attempts: attempts,
		Err:      last,
	}
}

// NewFetchError creates a RuntimeError for a failed batch fetch.
func NewFetchError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeFetchFailed,
		Message: "fetch pending orders",
		Err:     err,
	}
}
