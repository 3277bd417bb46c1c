package store

import (
	"context"
	"fmt"

	"github.com/roach88/ordermon/internal/model"
)

// CountOrdersByStatus returns the number of orders in each lifecycle
// status. Every status is present in the result, zero if empty.
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, classify("count orders by status", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate status counts", err)
	}
	return counts, nil
}

// CountActive returns the number of enabled users and the number of
// enabled groups whose owning user is also enabled.
func (s *Store) CountActive(ctx context.Context) (users, groups int, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE enabled = 1").Scan(&users)
	if err != nil {
		return 0, 0, classify("count active users", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM order_groups g
		JOIN users u ON g.user_id = u.id
		WHERE g.enabled = 1 AND u.enabled = 1
	`).Scan(&groups)
	if err != nil {
		return 0, 0, classify("count active groups", err)
	}
	return users, groups, nil
}
