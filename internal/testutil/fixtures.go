// Package testutil provides shared fixtures for tests: a deterministic
// clock, file-backed stores, miniredis-backed caches, seeded order books,
// a fault-injecting gateway, and lifecycle invariant checks.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/store"
)

// OpenStore opens a fresh file-backed store under t.TempDir(). It is
// closed when the test ends.
func OpenStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ordermon.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// OpenCache starts a miniredis server and returns a cache connected to it.
// Use the returned server to inject errors or fast-forward TTLs.
func OpenCache(t testing.TB, opts ...cache.Option) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts...)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// Fixture describes an order book to seed.
type Fixture struct {
	Users         int
	GroupsPerUser int
	Orders        int

	// Quantity of every order. Zero means 10.
	Quantity decimal.Decimal

	// Priorities cycles order priority through 0..Priorities-1.
	// Zero means every order has priority 0.
	Priorities int
}

// Seeded is what Seed created, in creation order.
type Seeded struct {
	Users  []model.User
	Groups []model.Group
	Orders []model.Order
}

// GroupsOf returns the groups owned by userID.
func (s Seeded) GroupsOf(userID int64) []model.Group {
	var out []model.Group
	for _, g := range s.Groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out
}

// Seed creates enabled users and groups, then distributes orders
// round-robin across all groups.
func Seed(t testing.TB, s *store.Store, f Fixture) Seeded {
	t.Helper()
	ctx := context.Background()

	qty := f.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(10)
	}

	var out Seeded
	for u := 0; u < f.Users; u++ {
		user, err := s.CreateUser(ctx, model.User{Enabled: true})
		require.NoError(t, err)
		out.Users = append(out.Users, user)

		for g := 0; g < f.GroupsPerUser; g++ {
			group, err := s.CreateGroup(ctx, model.Group{UserID: user.ID, Enabled: true})
			require.NoError(t, err)
			out.Groups = append(out.Groups, group)
		}
	}

	if f.Orders > 0 {
		require.NotEmpty(t, out.Groups, "orders need at least one group")
	}
	for i := 0; i < f.Orders; i++ {
		g := out.Groups[i%len(out.Groups)]
		priority := 0
		if f.Priorities > 0 {
			priority = i % f.Priorities
		}
		o, err := s.CreateOrder(ctx, model.Order{
			UserID:   g.UserID,
			GroupID:  g.ID,
			Priority: priority,
			Quantity: qty,
		})
		require.NoError(t, err)
		out.Orders = append(out.Orders, o)
	}
	return out
}

// AllOrders returns every order in dispatch order.
func AllOrders(t testing.TB, s *store.Store) []model.Order {
	t.Helper()
	ctx := context.Background()

	var all []model.Order
	var after *store.Cursor
	for {
		page, next, err := s.ListOrders(ctx, store.OrderFilter{Limit: 500, After: after})
		require.NoError(t, err)
		all = append(all, page...)
		if next == nil {
			return all
		}
		after = next
	}
}
