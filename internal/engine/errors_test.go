package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	err := NewRetryBudgetError(42, 4, errors.New("database is locked"))
	assert.Equal(t,
		"RETRY_BUDGET_EXCEEDED: processing error exceeded retry budget (order=42, attempts=4): database is locked",
		err.Error())

	fetch := NewFetchError(errors.New("disk I/O error"))
	assert.Equal(t, "FETCH_FAILED: fetch pending orders: disk I/O error", fetch.Error())
}

func TestRuntimeError_Matching(t *testing.T) {
	cause := errors.New("database is locked")
	wrapped := fmt.Errorf("cycle 3: %w", NewRetryBudgetError(42, 4, cause))

	assert.True(t, IsRetryBudgetError(wrapped))
	assert.True(t, errors.Is(wrapped, ErrRetryBudget))
	assert.True(t, errors.Is(wrapped, cause))

	fetch := NewFetchError(cause)
	assert.False(t, IsRetryBudgetError(fetch))
	assert.False(t, errors.Is(fetch, ErrRetryBudget))
	assert.False(t, IsRetryBudgetError(nil))
}
