package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/ordermon/internal/model"
)

// Defaults.
const (
	DefaultReadTimeout      = 200 * time.Millisecond
	DefaultFlagTTL          = 10 * time.Minute
	DefaultOrderStatusTTL   = 24 * time.Hour
	DefaultMaxNotifications = 1000
)

// Key names.
const (
	StatsKey         = "stats:monitor"
	NotificationsKey = "notifications"
	ControlChannel   = "ordermon:control"
)

// Config describes how to reach Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Entry is a cached enable flag.
type Entry struct {
	Enabled bool
	Gen     int64
}

// Cache is the Redis-backed hot cache. Safe for concurrent use.
type Cache struct {
	rdb              redis.UniversalClient
	readTimeout      time.Duration
	flagTTL          time.Duration
	orderStatusTTL   time.Duration
	maxNotifications int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithReadTimeout bounds every flag read.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithFlagTTL sets the expiry of flag keys.
func WithFlagTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flagTTL = d
		}
	}
}

// WithOrderStatusTTL sets the expiry of order:status keys.
func WithOrderStatusTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.orderStatusTTL = d
		}
	}
}

// WithMaxNotifications bounds the notifications list.
func WithMaxNotifications(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxNotifications = int64(n)
		}
	}
}

// Open builds a pooled client for cfg and verifies connectivity.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	c := New(rdb, opts...)
	if err := c.Ping(ctx); err != nil {
		rdb.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		rdb:              rdb,
		readTimeout:      DefaultReadTimeout,
		flagTTL:          DefaultFlagTTL,
		orderStatusTTL:   DefaultOrderStatusTTL,
		maxNotifications: DefaultMaxNotifications,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns the underlying client.
func (c *Cache) Client() redis.UniversalClient {
	return c.rdb
}

// Ping checks connectivity within the read timeout.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// FlagKey returns the Redis key of a flag.
func FlagKey(k model.FlagKey) string {
	return "flag:" + k.String()
}

// OrderStatusKey returns the Redis key of an order status entry.
func OrderStatusKey(orderID int64) string {
	return "order:status:" + strconv.FormatInt(orderID, 10)
}

// GetFlag reads one flag and slides its TTL.
//
// found is false on a miss. On error or timeout the flag reads as disabled
// and the error is returned.
func (c *Cache) GetFlag(ctx context.Context, key model.FlagKey) (enabled, found bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	rk := FlagKey(key)
	var get *redis.StringCmd
	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.HGet(ctx, rk, "enabled")
		p.Expire(ctx, rk, c.flagTTL)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("cache flag read degraded",
			"key", rk,
			"error", err)
		return false, false, fmt.Errorf("cache get flag %s: %w", key, err)
	}

	v, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("cache get flag %s: %w", key, err)
	}
	return v == "1", true, nil
}

// GetFlags reads many flags in one round trip and slides their TTLs.
// Missing keys are absent from the result.
func (c *Cache) GetFlags(ctx context.Context, keys []model.FlagKey) (map[model.FlagKey]Entry, error) {
	out := make(map[model.FlagKey]Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	cmds := make([]*redis.SliceCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			rk := FlagKey(k)
			cmds[i] = p.HMGet(ctx, rk, "enabled", "gen")
			p.Expire(ctx, rk, c.flagTTL)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("cache bulk flag read degraded",
			"keys", len(keys),
			"error", err)
		return nil, fmt.Errorf("cache get flags: %w", err)
	}

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) != 2 || vals[0] == nil {
			continue
		}
		e := Entry{Enabled: vals[0] == "1"}
		if s, ok := vals[1].(string); ok {
			e.Gen, _ = strconv.ParseInt(s, 10, 64)
		}
		out[keys[i]] = e
	}
	return out, nil
}

// SetFlags writes a batch of flags atomically. Each written key gets its
// gen bumped and its TTL reset.
func (c *Cache) SetFlags(ctx context.Context, flags []model.Flag) error {
	if len(flags) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range flags {
			rk := FlagKey(f.Key)
			p.HSet(ctx, rk, "enabled", boolString(f.Enabled))
			p.HIncrBy(ctx, rk, "gen", 1)
			p.Expire(ctx, rk, c.flagTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set flags: %w", err)
	}
	return nil
}

// Invalidate removes flag keys so the next read misses.
func (c *Cache) Invalidate(ctx context.Context, keys ...model.FlagKey) error {
	if len(keys) == 0 {
		return nil
	}
	rks := make([]string, len(keys))
	for i, k := range keys {
		rks[i] = FlagKey(k)
	}
	if err := c.rdb.Del(ctx, rks...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
