package reaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/model"
)

// Notification is the JSON document pushed to the notifications list.
type Notification struct {
	Type      string       `json:"type"`
	EventID   string       `json:"event_id"`
	OrderID   int64        `json:"order_id,omitempty"`
	UserID    int64        `json:"user_id,omitempty"`
	GroupID   int64        `json:"group_id,omitempty"`
	OldStatus model.Status `json:"old_status,omitempty"`
	NewStatus model.Status `json:"new_status,omitempty"`
	Filled    string       `json:"filled_quantity,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Flag      string       `json:"flag,omitempty"`
	Enabled   *bool        `json:"enabled,omitempty"`
	At        time.Time    `json:"at"`
}

// NotificationFor renders the notification document for an event.
func NotificationFor(e events.Event) (Notification, error) {
	switch e.Kind {
	case events.KindOrderTransitioned:
		o := e.Order
		return Notification{
			Type:      "order_status_change",
			EventID:   e.ID,
			OrderID:   o.Log.OrderID,
			UserID:    o.UserID,
			GroupID:   o.GroupID,
			OldStatus: o.Log.OldStatus,
			NewStatus: o.Log.NewStatus,
			Filled:    o.Log.NewFilled.String(),
			Reason:    o.Log.Reason,
			At:        e.At,
		}, nil
	case events.KindFlagChanged:
		c := e.Flag.Change
		enabled := c.New
		return Notification{
			Type:    string(c.Key.Kind) + "_status_change",
			EventID: e.ID,
			Flag:    c.Key.String(),
			Enabled: &enabled,
			At:      e.At,
		}, nil
	case events.KindEntityAdded:
		f := e.Added.Flag
		enabled := f.Enabled
		return Notification{
			Type:    string(f.Key.Kind) + "_added",
			EventID: e.ID,
			Flag:    f.Key.String(),
			Enabled: &enabled,
			At:      e.At,
		}, nil
	}
	return Notification{}, fmt.Errorf("unknown event kind %q", e.Kind)
}

// NotificationPusher appends to the notification list.
type NotificationPusher interface {
	PushNotification(ctx context.Context, payload []byte) error
}

// Notifier pushes a JSON notification for every event.
type Notifier struct {
	p NotificationPusher
}

func NewNotifier(p NotificationPusher) *Notifier {
	return &Notifier{p: p}
}

func (r *Notifier) Handle(ctx context.Context, e events.Event) error {
	n, err := NotificationFor(e)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return r.p.PushNotification(ctx, payload)
}
