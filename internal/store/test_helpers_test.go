package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordermon/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

// seedUserGroup creates an enabled user with one enabled group.
func seedUserGroup(t *testing.T, s *Store, userID, groupID int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, model.User{ID: userID, Enabled: true}); err != nil {
		t.Fatalf("CreateUser(%d) failed: %v", userID, err)
	}
	if _, err := s.CreateGroup(ctx, model.Group{ID: groupID, UserID: userID, Enabled: true}); err != nil {
		t.Fatalf("CreateGroup(%d) failed: %v", groupID, err)
	}
}

// createTestOrder creates a PENDING order for an existing user/group.
func createTestOrder(t *testing.T, s *Store, userID, groupID int64, priority int, qty string) model.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), model.Order{
		UserID:   userID,
		GroupID:  groupID,
		Priority: priority,
		Quantity: decimal.RequireFromString(qty),
	})
	if err != nil {
		t.Fatalf("CreateOrder() failed: %v", err)
	}
	return o
}
