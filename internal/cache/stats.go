package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/ordermon/internal/model"
)

// ErrNoStats is returned by GetStats before any snapshot has been stored.
var ErrNoStats = errors.New("no monitor snapshot stored")

// Field prefixes inside the stats hash.
const (
	ordersPrefix  = "orders:"
	counterPrefix = "engine:"
)

// PutStats replaces the stored monitor snapshot.
func (c *Cache) PutStats(ctx context.Context, snap model.Snapshot) error {
	fields := map[string]any{
		"at":            snap.At.UTC().UnixNano(),
		"active_users":  snap.ActiveUsers,
		"active_groups": snap.ActiveGroups,
	}
	for st, n := range snap.Orders {
		fields[ordersPrefix+string(st)] = n
	}
	for name, n := range snap.Counters {
		fields[counterPrefix+name] = n
	}

	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, StatsKey)
		p.HSet(ctx, StatsKey, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache put stats: %w", err)
	}
	return nil
}

// GetStats reads the stored monitor snapshot.
func (c *Cache) GetStats(ctx context.Context) (model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	raw, err := c.rdb.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("cache get stats: %w", err)
	}
	if len(raw) == 0 {
		return model.Snapshot{}, ErrNoStats
	}

	snap := model.Snapshot{
		Orders:   make(map[model.Status]int),
		Counters: make(map[string]int64),
	}
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("cache get stats: field %s: %w", field, err)
		}
		switch {
		case field == "at":
			snap.At = time.Unix(0, n).UTC()
		case field == "active_users":
			snap.ActiveUsers = int(n)
		case field == "active_groups":
			snap.ActiveGroups = int(n)
		case strings.HasPrefix(field, ordersPrefix):
			snap.Orders[model.Status(strings.TrimPrefix(field, ordersPrefix))] = int(n)
		case strings.HasPrefix(field, counterPrefix):
			snap.Counters[strings.TrimPrefix(field, counterPrefix)] = n
		}
	}
	return snap, nil
}
