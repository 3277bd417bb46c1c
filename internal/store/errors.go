package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrConflict is returned when a conditional write finds the row no longer
	// in the expected state. Someone else already handled it; do not retry.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
)

// TransportError wraps a failure to reach or use the database. The whole
// operation may be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport failure.
func IsRetryable(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// classify maps a database/sql or driver error onto the store taxonomy,
// prefixing it with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || IsRetryable(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr,
			sqlite3.ErrCantOpen, sqlite3.ErrProtocol, sqlite3.ErrNomem:
			return &TransportError{Op: op, Err: err}
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return &TransportError{Op: op, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return &TransportError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}
