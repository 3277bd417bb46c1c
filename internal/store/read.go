package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// Cursor is a keyset position in (priority DESC, created_at ASC, id ASC)
// order. The next page starts strictly after it.
type Cursor struct {
	Priority  int
	CreatedAt time.Time
	ID        int64
}

// CursorAfter returns the cursor positioned at o.
func CursorAfter(o model.Order) *Cursor {
	return &Cursor{Priority: o.Priority, CreatedAt: o.CreatedAt, ID: o.ID}
}

// OrderFilter selects orders for ListOrders. Zero values mean "any".
type OrderFilter struct {
	UserID   int64
	GroupID  int64
	Statuses []model.Status
	Limit    int
	After    *Cursor
}

const orderColumns = `id, user_id, group_id, priority, quantity, filled_quantity, status, extra, created_at, updated_at`

// ListOrders returns one page of orders matching f, ordered by
// priority DESC, created_at ASC, id ASC.
//
// next is non-nil when the page is full and more rows may follow.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) (orders []model.Order, next *Cursor, err error) {
	if f.Limit <= 0 {
		return nil, nil, fmt.Errorf("list orders: limit must be positive, got %d", f.Limit)
	}

	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.GroupID != 0 {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.After != nil {
		ts := f.After.CreatedAt.UTC().UnixNano()
		where = append(where, "(priority < ? OR (priority = ? AND (created_at > ? OR (created_at = ? AND id > ?))))")
		args = append(args, f.After.Priority, f.After.Priority, ts, ts, f.After.ID)
	}

	var q strings.Builder
	q.WriteString("SELECT " + orderColumns + " FROM orders")
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?")
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, nil, classify("list orders", err)
	}
	defer rows.Close()

	orders = make([]model.Order, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, classify("iterate orders", err)
	}

	if len(orders) == f.Limit {
		next = CursorAfter(orders[len(orders)-1])
	}
	return orders, next, nil
}

// ListPending returns up to limit PENDING or PARTIAL orders in dispatch order.
func (s *Store) ListPending(ctx context.Context, limit int) ([]model.Order, error) {
	orders, _, err := s.ListOrders(ctx, OrderFilter{
		Statuses: model.ActiveStatuses,
		Limit:    limit,
	})
	return orders, err
}

// GetOrder returns a single order by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if err != nil {
		return model.Order{}, classify(fmt.Sprintf("get order %d", id), err)
	}
	return o, nil
}

// StatusLogs returns every status log row for an order in commit order.
func (s *Store) StatusLogs(ctx context.Context, orderID int64) ([]model.StatusLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, old_status, new_status, old_filled, new_filled, reason, created_at
		FROM order_status_log
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, classify("query status log", err)
	}
	defer rows.Close()

	logs := []model.StatusLog{}
	for rows.Next() {
		var (
			l           model.StatusLog
			oldSt, nwSt string
			ts          int64
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &oldSt, &nwSt, &l.OldFilled, &l.NewFilled, &l.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		l.OldStatus = model.Status(oldSt)
		l.NewStatus = model.Status(nwSt)
		l.CreatedAt = fromStamp(ts)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate status log", err)
	}
	return logs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanOrder reads one order row. Quantities are parsed per row: a row
// whose values cannot be trusted comes back with Defect set instead of
// failing the whole read.
func scanOrder(r rowScanner) (model.Order, error) {
	var (
		o                model.Order
		qty, filled      string
		status           string
		extra            sql.NullString
		created, updated int64
	)
	if err := r.Scan(&o.ID, &o.UserID, &o.GroupID, &o.Priority, &qty, &filled, &status, &extra, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, err
		}
		return model.Order{}, fmt.Errorf("scan order: %w", err)
	}

	o.Status = model.Status(status)
	o.StoredFilled = filled
	o.CreatedAt = fromStamp(created)
	o.UpdatedAt = fromStamp(updated)
	if extra.Valid && extra.String != "" {
		o.Extra = json.RawMessage(extra.String)
	}

	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		o.Defect = fmt.Sprintf("malformed quantity %q", qty)
		return o, nil
	}
	if o.Filled, err = decimal.NewFromString(filled); err != nil {
		o.Defect = fmt.Sprintf("malformed filled quantity %q", filled)
		return o, nil
	}
	var ve *model.ValidationError
	if err := o.Check(); errors.As(err, &ve) {
		o.Defect = ve.Reason
	}
	return o, nil
}

func fromStamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
