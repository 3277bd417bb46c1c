package store

import (
	"context"
	"fmt"

	"github.com/roach88/ordermon/internal/model"
)

// LoadFlags returns the enable flag of every user followed by every group,
// each ordered by id.
func (s *Store) LoadFlags(ctx context.Context) ([]model.Flag, error) {
	users, err := s.loadFlagTable(ctx, "users", model.KindUser)
	if err != nil {
		return nil, err
	}
	groups, err := s.loadFlagTable(ctx, "order_groups", model.KindGroup)
	if err != nil {
		return nil, err
	}
	return append(users, groups...), nil
}

func (s *Store) loadFlagTable(ctx context.Context, table string, kind model.FlagKind) ([]model.Flag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, enabled FROM "+table+" ORDER BY id ASC")
	if err != nil {
		return nil, classify("load "+table+" flags", err)
	}
	defer rows.Close()

	flags := []model.Flag{}
	for rows.Next() {
		var (
			id      int64
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scan %s flag: %w", table, err)
		}
		flags = append(flags, model.Flag{Key: model.FlagKey{Kind: kind, ID: id}, Enabled: enabled})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+table+" flags", err)
	}
	return flags, nil
}

// Flag reads a single enable flag. Returns ErrNotFound for unknown entities.
func (s *Store) Flag(ctx context.Context, key model.FlagKey) (bool, error) {
	var table string
	switch key.Kind {
	case model.KindUser:
		table = "users"
	case model.KindGroup:
		table = "order_groups"
	default:
		return false, fmt.Errorf("read flag: unknown kind %q", key.Kind)
	}

	var enabled bool
	err := s.db.QueryRowContext(ctx, "SELECT enabled FROM "+table+" WHERE id = ?", key.ID).Scan(&enabled)
	if err != nil {
		return false, classify("read flag "+key.String(), err)
	}
	return enabled, nil
}

// GroupsOfUser returns every group owned by a user, ordered by id.
func (s *Store) GroupsOfUser(ctx context.Context, userID int64) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, enabled, updated_at
		FROM order_groups
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, classify("query groups of user", err)
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		var (
			g  model.Group
			ts int64
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Enabled, &ts); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.UpdatedAt = fromStamp(ts)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate groups", err)
	}
	return groups, nil
}

// RecentFlagChanges returns up to limit flag change log rows, newest first.
func (s *Store) RecentFlagChanges(ctx context.Context, limit int) ([]model.FlagChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, entity_id, old_enabled, new_enabled, created_at
		FROM flag_change_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("query flag changes", err)
	}
	defer rows.Close()

	changes := []model.FlagChange{}
	for rows.Next() {
		var (
			c    model.FlagChange
			kind string
			ts   int64
		)
		if err := rows.Scan(&kind, &c.Key.ID, &c.Old, &c.New, &ts); err != nil {
			return nil, fmt.Errorf("scan flag change: %w", err)
		}
		c.Key.Kind = model.FlagKind(kind)
		c.At = fromStamp(ts)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate flag changes", err)
	}
	return changes, nil
}
