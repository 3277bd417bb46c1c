package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// OrderStatus is the cached view of an order's latest transition.
type OrderStatus struct {
	OrderID   int64           `json:"order_id"`
	Status    model.Status    `json:"status"`
	Filled    decimal.Decimal `json:"filled"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SetOrderStatus stores the latest status of an order with the order TTL.
func (c *Cache) SetOrderStatus(ctx context.Context, st OrderStatus) error {
	rk := OrderStatusKey(st.OrderID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, rk,
			"status", string(st.Status),
			"filled", st.Filled.String(),
			"reason", st.Reason,
			"updated_at", st.UpdatedAt.UTC().UnixNano(),
		)
		p.Expire(ctx, rk, c.orderStatusTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set order status %d: %w", st.OrderID, err)
	}
	return nil
}

// GetOrderStatus reads a cached order status. found is false on a miss.
func (c *Cache) GetOrderStatus(ctx context.Context, orderID int64) (st OrderStatus, found bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	raw, err := c.rdb.HGetAll(ctx, OrderStatusKey(orderID)).Result()
	if err != nil {
		return OrderStatus{}, false, fmt.Errorf("cache get order status %d: %w", orderID, err)
	}
	if len(raw) == 0 {
		return OrderStatus{}, false, nil
	}

	st = OrderStatus{
		OrderID: orderID,
		Status:  model.Status(raw["status"]),
		Reason:  raw["reason"],
	}
	if st.Filled, err = decimal.NewFromString(raw["filled"]); err != nil {
		return OrderStatus{}, false, fmt.Errorf("cache get order status %d: filled: %w", orderID, err)
	}
	if ns, err := strconv.ParseInt(raw["updated_at"], 10, 64); err == nil {
		st.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return st, true, nil
}

// PushNotification prepends payload to the notifications list and trims it
// to the configured bound.
func (c *Cache) PushNotification(ctx context.Context, payload []byte) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, NotificationsKey, payload)
		p.LTrim(ctx, NotificationsKey, 0, c.maxNotifications-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache push notification: %w", err)
	}
	return nil
}

// Notifications returns up to n notifications, newest first.
func (c *Cache) Notifications(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	vals, err := c.rdb.LRange(ctx, NotificationsKey, 0, int64(n-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache notifications: %w", err)
	}
	if vals == nil {
		vals = []string{}
	}
	return vals, nil
}
