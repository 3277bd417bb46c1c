// Package reaction provides the event consumers registered on the
// dispatcher: logging, cache upkeep, notifications, the Kafka sink and
// metrics.
//
// Every reaction is driven by a single dispatcher goroutine and must
// tolerate at-least-once upstream semantics: handling the same transition
// twice must be harmless.
package reaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
)

// Logger writes one structured record per event.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a logging reaction. A nil logger uses slog.Default.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (r *Logger) Handle(ctx context.Context, e events.Event) error {
	switch e.Kind {
	case events.KindOrderTransitioned:
		o := e.Order
		r.log.InfoContext(ctx, "order transitioned",
			"event_id", e.ID,
			"order_id", o.Log.OrderID,
			"user_id", o.UserID,
			"group_id", o.GroupID,
			"from", o.Log.OldStatus,
			"to", o.Log.NewStatus,
			"filled", o.Log.NewFilled.String(),
			"reason", o.Log.Reason)
	case events.KindFlagChanged:
		c := e.Flag.Change
		r.log.InfoContext(ctx, "flag changed",
			"event_id", e.ID,
			"kind", c.Key.Kind,
			"id", c.Key.ID,
			"old", c.Old,
			"new", c.New)
	case events.KindEntityAdded:
		f := e.Added.Flag
		r.log.InfoContext(ctx, "entity added",
			"event_id", e.ID,
			"kind", f.Key.Kind,
			"id", f.Key.ID,
			"enabled", f.Enabled)
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// StatusWriter stores per-order status entries.
type StatusWriter interface {
	SetOrderStatus(ctx context.Context, st cache.OrderStatus) error
}

// OrderStatusCache mirrors the latest transition of every order into the
// cache for external readers.
type OrderStatusCache struct {
	w StatusWriter
}

func NewOrderStatusCache(w StatusWriter) *OrderStatusCache {
	return &OrderStatusCache{w: w}
}

func (r *OrderStatusCache) Handle(ctx context.Context, e events.Event) error {
	if e.Kind != events.KindOrderTransitioned {
		return nil
	}
	l := e.Order.Log
	return r.w.SetOrderStatus(ctx, cache.OrderStatus{
		OrderID:   l.OrderID,
		Status:    l.NewStatus,
		Filled:    l.NewFilled,
		Reason:    l.Reason,
		UpdatedAt: l.CreatedAt,
	})
}

// GroupLister lists the groups owned by a user.
type GroupLister interface {
	GroupsOfUser(ctx context.Context, userID int64) ([]model.Group, error)
}

// Invalidator drops cached flags.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...model.FlagKey) error
}

// FlagInvalidator drops the cached group flags of a user whose own flag
// flipped. Operators usually toggle a user's groups together with the user,
// and the next engine lookup then reads the group flags through from the
// store instead of waiting for the next reconcile.
type FlagInvalidator struct {
	groups GroupLister
	cache  Invalidator
}

func NewFlagInvalidator(groups GroupLister, c Invalidator) *FlagInvalidator {
	return &FlagInvalidator{groups: groups, cache: c}
}

func (r *FlagInvalidator) Handle(ctx context.Context, e events.Event) error {
	if e.Kind != events.KindFlagChanged || e.Flag.Change.Key.Kind != model.KindUser {
		return nil
	}
	userID := e.Flag.Change.Key.ID

	groups, err := r.groups.GroupsOfUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("invalidate groups of user %d: %w", userID, err)
	}
	if len(groups) == 0 {
		return nil
	}

	keys := make([]model.FlagKey, len(groups))
	for i, g := range groups {
		keys[i] = model.GroupKey(g.ID)
	}
	if err := r.cache.Invalidate(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate groups of user %d: %w", userID, err)
	}

	slog.Debug("group flags invalidated",
		"user_id", userID,
		"groups", len(keys))
	return nil
}

// Metrics counts events by kind and flag flips by direction.
type Metrics struct {
	m *metrics.Metrics
}

func NewMetrics(m *metrics.Metrics) *Metrics {
	return &Metrics{m: m}
}

func (r *Metrics) Handle(_ context.Context, e events.Event) error {
	r.m.Events.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == events.KindFlagChanged {
		c := e.Flag.Change
		r.m.FlagChanges.WithLabelValues(string(c.Key.Kind), fmt.Sprint(c.New)).Inc()
	}
	return nil
}
