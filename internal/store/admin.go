package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// Administrative writes. The engine never calls these; they exist for
// external tooling, seeding and tests. The status monitor picks up flag
// changes made here on its next reconcile.

// CreateUser inserts a user. A zero ID lets the database assign one.
func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	now := s.stamp()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, enabled, updated_at) VALUES (?, ?, ?)",
		nullID(u.ID), u.Enabled, now,
	)
	if err != nil {
		return model.User{}, classify("create user", err)
	}
	if u.ID == 0 {
		if u.ID, err = result.LastInsertId(); err != nil {
			return model.User{}, classify("create user: last insert id", err)
		}
	}
	u.UpdatedAt = fromStamp(now)
	return u, nil
}

// CreateGroup inserts an order group. A zero ID lets the database assign one.
func (s *Store) CreateGroup(ctx context.Context, g model.Group) (model.Group, error) {
	now := s.stamp()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO order_groups (id, user_id, enabled, updated_at) VALUES (?, ?, ?, ?)",
		nullID(g.ID), g.UserID, g.Enabled, now,
	)
	if err != nil {
		return model.Group{}, classify("create group", err)
	}
	if g.ID == 0 {
		if g.ID, err = result.LastInsertId(); err != nil {
			return model.Group{}, classify("create group: last insert id", err)
		}
	}
	g.UpdatedAt = fromStamp(now)
	return g, nil
}

// CreateOrder inserts an order. Status defaults to PENDING, Filled to zero
// and CreatedAt to now. The order must satisfy model.Order.Check.
func (s *Store) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if o.Status == "" {
		o.Status = model.StatusPending
	}
	if o.Filled.IsZero() {
		o.Filled = decimal.Zero
	}
	if err := o.Check(); err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	var extra any
	if len(o.Extra) > 0 {
		extra = string(o.Extra)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
		(id, user_id, group_id, priority, quantity, filled_quantity, status, extra, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullID(o.ID),
		o.UserID,
		o.GroupID,
		o.Priority,
		o.Quantity.String(),
		o.Filled.String(),
		string(o.Status),
		extra,
		o.CreatedAt.UTC().UnixNano(),
		o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return model.Order{}, classify("create order", err)
	}
	o.StoredFilled = o.Filled.String()
	if o.ID == 0 {
		if o.ID, err = result.LastInsertId(); err != nil {
			return model.Order{}, classify("create order: last insert id", err)
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

// SetUserEnabled flips a user's enable flag.
func (s *Store) SetUserEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.setEnabled(ctx, "users", id, enabled)
}

// SetGroupEnabled flips a group's enable flag.
func (s *Store) SetGroupEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.setEnabled(ctx, "order_groups", id, enabled)
}

// SetUserGroupsEnabled flips the flag of every group owned by a user and
// returns how many rows changed.
func (s *Store) SetUserGroupsEnabled(ctx context.Context, userID int64, enabled bool) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE order_groups SET enabled = ?, updated_at = ? WHERE user_id = ? AND enabled <> ?",
		enabled, s.stamp(), userID, enabled,
	)
	if err != nil {
		return 0, classify("set user groups enabled", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("set user groups enabled: rows affected", err)
	}
	return int(n), nil
}

func (s *Store) setEnabled(ctx context.Context, table string, id int64, enabled bool) error {
	op := fmt.Sprintf("set %s %d enabled", table, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE "+table+" SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, s.stamp(), id,
	)
	if err != nil {
		return classify(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(op+": rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// nullID maps a zero ID to NULL so INTEGER PRIMARY KEY auto-assigns.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
