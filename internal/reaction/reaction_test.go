package reaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
)

var testAt = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func transitionEvent() events.Event {
	return events.NewOrderTransitioned(model.StatusLog{
		ID:        1,
		OrderID:   42,
		OldStatus: model.StatusPending,
		NewStatus: model.StatusPartial,
		OldFilled: decimal.Zero,
		NewFilled: decimal.RequireFromString("1.5"),
		Reason:    "step fill",
		CreatedAt: testAt,
	}, 7, 70)
}

func userFlagEvent(enabled bool) events.Event {
	return events.NewFlagChanged(model.FlagChange{
		Key: model.UserKey(7),
		Old: !enabled,
		New: enabled,
		At:  testAt,
	})
}

func groupAddedEvent() events.Event {
	return events.NewEntityAdded(model.Flag{Key: model.GroupKey(70), Enabled: true}, testAt)
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, transitionEvent()))
	require.NoError(t, r.Handle(ctx, userFlagEvent(false)))
	require.NoError(t, r.Handle(ctx, groupAddedEvent()))
	assert.Error(t, r.Handle(ctx, events.Event{Kind: "bogus"}))

	out := buf.String()
	assert.Contains(t, out, `msg="order transitioned"`)
	assert.Contains(t, out, "order_id=42")
	assert.Contains(t, out, "to=PARTIAL")
	assert.Contains(t, out, `msg="flag changed"`)
	assert.Contains(t, out, "new=false")
	assert.Contains(t, out, `msg="entity added"`)
	assert.Contains(t, out, "kind=group id=70 enabled=true")
}

func TestOrderStatusCache(t *testing.T) {
	c := newTestCache(t)
	r := NewOrderStatusCache(c)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, userFlagEvent(true)), "flag events are ignored")
	require.NoError(t, r.Handle(ctx, transitionEvent()))

	st, found, err := c.GetOrderStatus(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StatusPartial, st.Status)
	assert.True(t, st.Filled.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, st.UpdatedAt.Equal(testAt))

	// Replaying the same event is harmless
	require.NoError(t, r.Handle(ctx, transitionEvent()))
}

type fakeGroups struct {
	groups []model.Group
	err    error
}

func (f *fakeGroups) GroupsOfUser(ctx context.Context, userID int64) ([]model.Group, error) {
	return f.groups, f.err
}

type fakeInvalidator struct {
	keys []model.FlagKey
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, keys ...model.FlagKey) error {
	f.keys = append(f.keys, keys...)
	return nil
}

func TestFlagInvalidator(t *testing.T) {
	groups := &fakeGroups{groups: []model.Group{{ID: 70, UserID: 7}, {ID: 71, UserID: 7}}}
	inv := &fakeInvalidator{}
	r := NewFlagInvalidator(groups, inv)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, transitionEvent()))
	require.NoError(t, r.Handle(ctx, events.NewFlagChanged(model.FlagChange{Key: model.GroupKey(70)})))
	assert.Empty(t, inv.keys, "only user flag changes invalidate")

	require.NoError(t, r.Handle(ctx, userFlagEvent(false)))
	assert.Equal(t, []model.FlagKey{model.GroupKey(70), model.GroupKey(71)}, inv.keys)
}

func TestFlagInvalidator_ListError(t *testing.T) {
	r := NewFlagInvalidator(&fakeGroups{err: errors.New("db down")}, &fakeInvalidator{})

	err := r.Handle(context.Background(), userFlagEvent(true))
	assert.ErrorContains(t, err, "db down")
}

func TestNotifier(t *testing.T) {
	c := newTestCache(t)
	r := NewNotifier(c)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, transitionEvent()))
	require.NoError(t, r.Handle(ctx, userFlagEvent(false)))

	got, err := c.Notifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	var flag Notification
	require.NoError(t, json.Unmarshal([]byte(got[0]), &flag))
	assert.Equal(t, "user_status_change", flag.Type)
	assert.Equal(t, "user:7", flag.Flag)
	require.NotNil(t, flag.Enabled)
	assert.False(t, *flag.Enabled)

	var order Notification
	require.NoError(t, json.Unmarshal([]byte(got[1]), &order))
	assert.Equal(t, "order_status_change", order.Type)
	assert.Equal(t, int64(42), order.OrderID)
	assert.Equal(t, model.StatusPending, order.OldStatus)
	assert.Equal(t, model.StatusPartial, order.NewStatus)
	assert.Equal(t, "1.5", order.Filled)
}

func TestNotifier_EntityAdded(t *testing.T) {
	c := newTestCache(t)
	r := NewNotifier(c)
	ctx := context.Background()

	e := groupAddedEvent()
	require.NoError(t, r.Handle(ctx, e))

	got, err := c.Notifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(got[0]), &n))
	assert.Equal(t, "group_added", n.Type)
	assert.Equal(t, e.ID, n.EventID)
	assert.Equal(t, "group:70", n.Flag)
	require.NotNil(t, n.Enabled)
	assert.True(t, *n.Enabled)
	assert.True(t, testAt.Equal(n.At))
	assert.Equal(t, []byte("group:70"), MessageKey(e))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	r := NewKafkaSink(w)
	ctx := context.Background()

	e := transitionEvent()
	require.NoError(t, r.Handle(ctx, e))
	require.NoError(t, r.Handle(ctx, userFlagEvent(true)))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "order:42", string(w.msgs[0].Key))
	assert.Equal(t, "user:7", string(w.msgs[1].Key))
	assert.Equal(t, testAt, w.msgs[0].Time)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, events.KindOrderTransitioned, decoded.Kind)
	require.NotNil(t, decoded.Order)
	assert.Equal(t, int64(42), decoded.Order.Log.OrderID)

	require.NoError(t, r.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	r := NewKafkaSink(&fakeWriter{err: errors.New("leader not available")})

	err := r.Handle(context.Background(), transitionEvent())
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "ordermon.events")
	defer w.Close()

	assert.Equal(t, "ordermon.events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.False(t, w.Async)
}

func TestMetricsReaction(t *testing.T) {
	m := metrics.New()
	r := NewMetrics(m)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, transitionEvent()))
	require.NoError(t, r.Handle(ctx, userFlagEvent(false)))
	require.NoError(t, r.Handle(ctx, userFlagEvent(false)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues(string(events.KindOrderTransitioned))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues(string(events.KindFlagChanged))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlagChanges.WithLabelValues("user", "false")))
}
