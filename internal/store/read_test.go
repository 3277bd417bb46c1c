package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/model"
)

func ids(orders []model.Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestListOrders_DispatchOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(stepClock(start)))
	seedUserGroup(t, s, 1, 10)

	low := createTestOrder(t, s, 1, 10, 1, "1")
	highOld := createTestOrder(t, s, 1, 10, 5, "1")
	mid := createTestOrder(t, s, 1, 10, 3, "1")
	highNew := createTestOrder(t, s, 1, 10, 5, "1")

	orders, next, err := s.ListOrders(context.Background(), OrderFilter{Limit: 10})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, []int64{highOld.ID, highNew.ID, mid.ID, low.ID}, ids(orders))
}

func TestListOrders_SameTimestampTieBreaksOnID(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(func() time.Time { return fixed }))
	seedUserGroup(t, s, 1, 10)

	a := createTestOrder(t, s, 1, 10, 0, "1")
	b := createTestOrder(t, s, 1, 10, 0, "1")
	c := createTestOrder(t, s, 1, 10, 0, "1")

	orders, _, err := s.ListOrders(context.Background(), OrderFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, ids(orders))
}

func TestListOrders_KeysetPagination(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(stepClock(start)))
	seedUserGroup(t, s, 1, 10)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		createTestOrder(t, s, 1, 10, i%3, "1")
	}

	all, _, err := s.ListOrders(ctx, OrderFilter{Limit: 100})
	require.NoError(t, err)

	var (
		paged []model.Order
		after *Cursor
	)
	for {
		page, next, err := s.ListOrders(ctx, OrderFilter{Limit: 3, After: after})
		require.NoError(t, err)
		paged = append(paged, page...)
		if next == nil {
			break
		}
		after = next
	}
	assert.Equal(t, ids(all), ids(paged))
}

func TestListOrders_Filters(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	seedUserGroup(t, s, 2, 20)
	ctx := context.Background()

	a := createTestOrder(t, s, 1, 10, 0, "1")
	b := createTestOrder(t, s, 2, 20, 0, "1")
	c := createTestOrder(t, s, 2, 20, 0, "1")

	_, err := s.AdvanceOrder(ctx, model.TransitionFrom(c, model.StatusFilled, c.Quantity, ""))
	require.NoError(t, err)

	byUser, _, err := s.ListOrders(ctx, OrderFilter{UserID: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, c.ID}, ids(byUser))

	byGroup, _, err := s.ListOrders(ctx, OrderFilter{GroupID: 10, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids(byGroup))

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(pending))

	filled, _, err := s.ListOrders(ctx, OrderFilter{Statuses: []model.Status{model.StatusFilled}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, ids(filled))
}

func TestListOrders_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	orders, next, err := s.ListOrders(context.Background(), OrderFilter{Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
	assert.Nil(t, next)
}

func TestListOrders_RejectsNonPositiveLimit(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.ListOrders(context.Background(), OrderFilter{})
	assert.Error(t, err)
}

func TestGetOrder_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	ctx := context.Background()

	created, err := s.CreateOrder(ctx, model.Order{
		UserID:   1,
		GroupID:  10,
		Priority: 9,
		Quantity: decimal.RequireFromString("12.5"),
		Extra:    json.RawMessage(`{"symbol":"BTC-USD"}`),
	})
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.Quantity.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.Filled.IsZero())
	assert.JSONEq(t, `{"symbol":"BTC-USD"}`, string(got.Extra))
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
}

func TestGetOrder_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetOrder(context.Background(), 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStatusLogs_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	logs, err := s.StatusLogs(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestListOrders_MalformedRowsComeBackDefective(t *testing.T) {
	s := createTestStore(t)
	seedUserGroup(t, s, 1, 10)
	ctx := context.Background()

	var created []int64
	for i := 0; i < 5; i++ {
		created = append(created, createTestOrder(t, s, 1, 10, 0, "10").ID)
	}
	_, err := s.DB().ExecContext(ctx, "UPDATE orders SET quantity = 'abc' WHERE id = ?", created[1])
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, "UPDATE orders SET filled_quantity = 'x1' WHERE id = ?", created[2])
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, "UPDATE orders SET filled_quantity = '12' WHERE id = ?", created[3])
	require.NoError(t, err)

	orders, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 5)

	defects := map[int64]string{}
	for _, o := range orders {
		defects[o.ID] = o.Defect
	}
	assert.Empty(t, defects[created[0]])
	assert.Equal(t, `malformed quantity "abc"`, defects[created[1]])
	assert.Equal(t, `malformed filled quantity "x1"`, defects[created[2]])
	assert.Equal(t, "filled quantity exceeds quantity", defects[created[3]])
	assert.Empty(t, defects[created[4]])

	got, err := s.GetOrder(ctx, created[1])
	require.NoError(t, err)
	assert.Equal(t, `malformed quantity "abc"`, got.Defect)
}
