package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		conflict  bool
		retryable bool
		notFound  bool
	}{
		{"nil", nil, false, false, false},
		{"no rows", sql.ErrNoRows, false, false, true},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, false, true, false},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, false, true, false},
		{"ioerr", sqlite3.Error{Code: sqlite3.ErrIoErr}, false, true, false},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, true, false, false},
		{"deadline", context.DeadlineExceeded, false, true, false},
		{"canceled", context.Canceled, false, true, false},
		{"bad conn", driver.ErrBadConn, false, true, false},
		{"conn done", sql.ErrConnDone, false, true, false},
		{"other", errors.New("syntax error"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.conflict, IsConflict(err), "IsConflict")
			assert.Equal(t, tt.retryable, IsRetryable(err), "IsRetryable")
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound), "ErrNotFound")
			assert.Contains(t, err.Error(), "op")
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inner := classify("inner", sqlite3.Error{Code: sqlite3.ErrBusy})
	outer := classify("outer", inner)

	assert.True(t, IsRetryable(outer))
	assert.Contains(t, outer.Error(), "outer")
	assert.Contains(t, outer.Error(), "inner")
}
