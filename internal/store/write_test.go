package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/model"
)

func TestAdvanceOrder_CommitsAndLogs(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(stepClock(start)))
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	log, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(4), "  partial fill "))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, log.OldStatus)
	assert.Equal(t, model.StatusPartial, log.NewStatus)
	assert.Equal(t, "partial fill", log.Reason)
	assert.NotZero(t, log.ID)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, got.Status)
	assert.True(t, got.Filled.Equal(decimal.NewFromInt(4)))
	assert.True(t, got.UpdatedAt.After(o.UpdatedAt))

	logs, err := s.StatusLogs(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, log.ID, logs[0].ID)
	assert.True(t, logs[0].NewFilled.Equal(decimal.NewFromInt(4)))
	assert.True(t, logs[0].OldFilled.IsZero())
}

func TestAdvanceOrder_PartialThenFilled(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(3), ""))
	require.NoError(t, err)

	o, err = s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(7), ""))
	require.NoError(t, err)

	o, err = s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusFilled, decimal.NewFromInt(10), ""))
	require.NoError(t, err)

	logs, err := s.StatusLogs(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	// Log rows chain: each row's old state is the previous row's new state
	for i := 1; i < len(logs); i++ {
		assert.Equal(t, logs[i-1].NewStatus, logs[i].OldStatus)
		assert.True(t, logs[i-1].NewFilled.Equal(logs[i].OldFilled))
		assert.Greater(t, logs[i].ID, logs[i-1].ID)
	}
}

func TestAdvanceOrder_StaleStatusConflicts(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusFilled, decimal.NewFromInt(10), ""))
	require.NoError(t, err)

	// o still says PENDING
	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusCancelled, o.Filled, "late"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsRetryable(err))

	logs, err := s.StatusLogs(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestAdvanceOrder_StaleFilledConflicts(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(2), ""))
	require.NoError(t, err)
	o, err = s.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(5), ""))
	require.NoError(t, err)

	// Same status, stale filled quantity
	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(6), ""))
	assert.True(t, IsConflict(err))
}

func TestAdvanceOrder_TerminalSourceConflicts(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AdvanceOrder(context.Background(), model.Transition{
		OrderID: 1,
		From:    model.StatusFilled,
		To:      model.StatusCancelled,
	})
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestAdvanceOrder_MissingOrderConflicts(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AdvanceOrder(context.Background(), model.Transition{
		OrderID:   404,
		From:      model.StatusPending,
		To:        model.StatusFailed,
		OldFilled: decimal.Zero,
		NewFilled: decimal.Zero,
	})
	assert.True(t, IsConflict(err))
}

func TestAdvanceOrder_ReasonTruncated(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "1")

	log, err := s.AdvanceOrder(context.Background(),
		model.TransitionFrom(o, model.StatusFailed, o.Filled, strings.Repeat("x", 400)))
	require.NoError(t, err)
	assert.Len(t, log.Reason, model.MaxReasonLen)
}

func TestAdvanceOrder_CancelledContextIsRetryable(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusFilled, o.Quantity, ""))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	got, err := s.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

// Two writers racing on the same PENDING order: exactly one wins, every
// other attempt reports a conflict, and exactly one log row exists.
func TestAdvanceOrder_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		other     []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := model.StatusFilled
			filled := o.Quantity
			if i%2 == 1 {
				to = model.StatusCancelled
				filled = o.Filled
			}
			_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, to, filled, ""))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case IsConflict(err):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	logs, err := s.StatusLogs(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCancelOrder(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(4), ""))
	require.NoError(t, err)

	log, err := s.CancelOrder(ctx, o.ID, "user request")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, log.NewStatus)
	assert.True(t, log.NewFilled.Equal(decimal.NewFromInt(4)), "cancel keeps the filled quantity")

	_, err = s.CancelOrder(ctx, o.ID, "again")
	assert.True(t, IsConflict(err))
}

func TestCancelOrder_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CancelOrder(context.Background(), 404, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAppendFlagChanges(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(stepClock(start)))
	ctx := context.Background()

	require.NoError(t, s.AppendFlagChanges(ctx, nil))

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendFlagChanges(ctx, []model.FlagChange{
		{Key: model.UserKey(1), Old: true, New: false, At: at},
		{Key: model.GroupKey(10), Old: false, New: true},
	}))

	changes, err := s.RecentFlagChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	// Newest first
	assert.Equal(t, model.GroupKey(10), changes[0].Key)
	assert.True(t, changes[0].New)
	assert.Equal(t, model.UserKey(1), changes[1].Key)
	assert.False(t, changes[1].New)
	assert.True(t, changes[1].At.Equal(at))
}

func TestAdvanceOrder_MatchesNonCanonicalStoredFilled(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	ctx := context.Background()

	tests := []struct {
		stored string
		to     model.Status
		filled int64
	}{
		{stored: "0.0", to: model.StatusFilled, filled: 10},
		{stored: "0.00", to: model.StatusPartial, filled: 4},
	}
	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			o := createTestOrder(t, s, 1, 10, 0, "10")
			_, err := s.DB().ExecContext(ctx, "UPDATE orders SET filled_quantity = ? WHERE id = ?", tt.stored, o.ID)
			require.NoError(t, err)

			o, err = s.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, o.StoredFilled)
			assert.True(t, o.Filled.IsZero())
			assert.Empty(t, o.Defect)

			_, err = s.AdvanceOrder(ctx, model.TransitionFrom(o, tt.to, decimal.NewFromInt(tt.filled), ""))
			require.NoError(t, err)

			got, err := s.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			assert.Equal(t, decimal.NewFromInt(tt.filled).String(), got.StoredFilled)
		})
	}
}

func TestAdvanceOrder_StaleStoredFilledConflicts(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	stale := o
	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusPartial, decimal.NewFromInt(3), ""))
	require.NoError(t, err)

	// Same status, different fill: the optimistic lock still rejects it.
	o, err = s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	stale.Status = model.StatusPartial
	_, err = s.AdvanceOrder(ctx, model.TransitionFrom(stale, model.StatusPartial, decimal.NewFromInt(5), ""))
	assert.True(t, IsConflict(err))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", got.StoredFilled)
}

func TestFailOrder_KeepsStoredQuantities(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	o := createTestOrder(t, s, 1, 10, 0, "10")
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "UPDATE orders SET quantity = 'abc' WHERE id = ?", o.ID)
	require.NoError(t, err)

	log, err := s.FailOrder(ctx, o.ID, model.StatusPending, `malformed quantity "abc"`)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, log.OldStatus)
	assert.Equal(t, model.StatusFailed, log.NewStatus)
	assert.True(t, log.OldFilled.IsZero())

	var qty, filled, status string
	require.NoError(t, s.DB().QueryRowContext(ctx,
		"SELECT quantity, filled_quantity, status FROM orders WHERE id = ?", o.ID).Scan(&qty, &filled, &status))
	assert.Equal(t, "abc", qty)
	assert.Equal(t, "0", filled)
	assert.Equal(t, "FAILED", status)

	logs, err := s.StatusLogs(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, `malformed quantity "abc"`, logs[0].Reason)

	// Status-only lock: a second attempt from the same snapshot conflicts.
	_, err = s.FailOrder(ctx, o.ID, model.StatusPending, "again")
	assert.True(t, IsConflict(err))

	_, err = s.FailOrder(ctx, o.ID, model.StatusFailed, "terminal")
	assert.True(t, IsConflict(err))
}
