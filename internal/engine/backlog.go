package engine

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/roach88/ordermon/internal/model"
)

// retryItem is an order waiting for another attempt after a transient
// failure. attempts counts failed attempts so far.
type retryItem struct {
	order    model.Order
	attempts int
}

// dispatchLess orders by priority DESC, created_at ASC, id ASC. It is the
// same ordering the store applies to ListPending.
func dispatchLess(a, b model.Order) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// backlog holds orders requeued after transport failures, kept in dispatch
// order so they compete fairly with freshly fetched orders.
type backlog struct {
	mu   sync.Mutex
	tree *btree.BTreeG[retryItem]
	byID map[int64]retryItem
}

func newBacklog() *backlog {
	return &backlog{
		tree: btree.NewBTreeG(func(a, b retryItem) bool {
			return dispatchLess(a.order, b.order)
		}),
		byID: make(map[int64]retryItem),
	}
}

// push inserts or replaces the entry for the order.
func (b *backlog) push(o model.Order, attempts int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byID[o.ID]; ok {
		b.tree.Delete(old)
	}
	item := retryItem{order: o, attempts: attempts}
	b.tree.Set(item)
	b.byID[o.ID] = item
}

// remove drops the order if present.
func (b *backlog) remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byID[id]; ok {
		b.tree.Delete(old)
		delete(b.byID, id)
	}
}

// attempts returns the failed attempt count of the order, zero if absent.
func (b *backlog) attempts(id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byID[id].attempts
}

// head returns up to n entries in dispatch order without removing them.
func (b *backlog) head(n int) []retryItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]retryItem, 0, min(n, len(b.byID)))
	b.tree.Scan(func(item retryItem) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, item)
		return true
	})
	return out
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
