package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// AdvanceOrder applies a conditional status transition and appends its
// status log row in a single transaction.
//
// The UPDATE matches only if the row still has tr.From and the stored
// filled text the caller read (tr.LockFilled).
// Zero rows affected means another writer got there first: ErrConflict.
// A terminal tr.From is also ErrConflict - nothing leaves a terminal state.
//
// Lifecycle and quantity validation is the caller's responsibility
// (model.Transition.Validate); the store only enforces the optimistic lock.
func (s *Store) AdvanceOrder(ctx context.Context, tr model.Transition) (model.StatusLog, error) {
	op := fmt.Sprintf("advance order %d", tr.OrderID)
	if tr.From.Terminal() {
		return model.StatusLog{}, fmt.Errorf("%s: %w: %v", op, ErrConflict, model.ErrTerminal)
	}

	reason := model.NormalizeReason(tr.Reason)
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.StatusLog{}, classify(op+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_quantity = ?, updated_at = ?
		WHERE id = ? AND status = ? AND filled_quantity = ?
	`,
		string(tr.To),
		tr.NewFilled.String(),
		now,
		tr.OrderID,
		string(tr.From),
		tr.LockFilled(),
	)
	if err != nil {
		return model.StatusLog{}, classify(op+": update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return model.StatusLog{}, classify(op+": rows affected", err)
	}
	if rowsAffected == 0 {
		return model.StatusLog{}, fmt.Errorf("%s: %w", op, ErrConflict)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_log
		(order_id, old_status, new_status, old_filled, new_filled, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tr.OrderID,
		string(tr.From),
		string(tr.To),
		tr.OldFilled.String(),
		tr.NewFilled.String(),
		reason,
		now,
	)
	if err != nil {
		return model.StatusLog{}, classify(op+": insert log", err)
	}

	logID, err := result.LastInsertId()
	if err != nil {
		return model.StatusLog{}, classify(op+": last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return model.StatusLog{}, classify(op+": commit", err)
	}

	return model.StatusLog{
		ID:        logID,
		OrderID:   tr.OrderID,
		OldStatus: tr.From,
		NewStatus: tr.To,
		OldFilled: tr.OldFilled,
		NewFilled: tr.NewFilled,
		Reason:    reason,
		CreatedAt: fromStamp(now),
	}, nil
}

// FailOrder moves a defective order to FAILED without touching its
// quantities, which may not parse. The UPDATE matches on status alone; the
// log row copies the stored filled text on both sides.
func (s *Store) FailOrder(ctx context.Context, id int64, from model.Status, reason string) (model.StatusLog, error) {
	op := fmt.Sprintf("fail order %d", id)
	if from.Terminal() {
		return model.StatusLog{}, fmt.Errorf("%s: %w: %v", op, ErrConflict, model.ErrTerminal)
	}

	reason = model.NormalizeReason(reason)
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.StatusLog{}, classify(op+": begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusFailed), now, id, string(from))
	if err != nil {
		return model.StatusLog{}, classify(op+": update", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return model.StatusLog{}, classify(op+": rows affected", err)
	}
	if rowsAffected == 0 {
		return model.StatusLog{}, fmt.Errorf("%s: %w", op, ErrConflict)
	}

	var filled string
	if err := tx.QueryRowContext(ctx, "SELECT filled_quantity FROM orders WHERE id = ?", id).Scan(&filled); err != nil {
		return model.StatusLog{}, classify(op+": read filled", err)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_log
		(order_id, old_status, new_status, old_filled, new_filled, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, string(from), string(model.StatusFailed), filled, filled, reason, now)
	if err != nil {
		return model.StatusLog{}, classify(op+": insert log", err)
	}
	logID, err := result.LastInsertId()
	if err != nil {
		return model.StatusLog{}, classify(op+": last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return model.StatusLog{}, classify(op+": commit", err)
	}

	// An unparseable filled value is reported as zero; the log row keeps the text.
	amount, _ := decimal.NewFromString(filled)
	return model.StatusLog{
		ID:        logID,
		OrderID:   id,
		OldStatus: from,
		NewStatus: model.StatusFailed,
		OldFilled: amount,
		NewFilled: amount,
		Reason:    reason,
		CreatedAt: fromStamp(now),
	}, nil
}

// CancelOrder moves a non-terminal order to CANCELLED, keeping its filled
// quantity. Cancelling a terminal order is ErrConflict.
func (s *Store) CancelOrder(ctx context.Context, id int64, reason string) (model.StatusLog, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return model.StatusLog{}, fmt.Errorf("cancel order: %w", err)
	}
	return s.AdvanceOrder(ctx, model.TransitionFrom(o, model.StatusCancelled, o.Filled, reason))
}

// AppendFlagChanges records observed flag flips in one transaction.
func (s *Store) AppendFlagChanges(ctx context.Context, changes []model.FlagChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("append flag changes: begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flag_change_log (kind, entity_id, old_enabled, new_enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return classify("append flag changes: prepare", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		at := c.At
		if at.IsZero() {
			at = s.now()
		}
		if _, err := stmt.ExecContext(ctx, string(c.Key.Kind), c.Key.ID, boolInt(c.Old), boolInt(c.New), at.UTC().UnixNano()); err != nil {
			return classify("append flag changes: insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("append flag changes: commit", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
