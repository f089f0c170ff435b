package book

import (
	"github.com/tidwall/btree"
)

// Queue holds the resting limit orders of one side in price-time priority.
// Bids order by price descending, asks ascending; equal prices fall back to
// order id, which is arrival order, so the tie-break is deterministic.
//
// Entries reference orders owned by the Store; terminal orders are removed
// eagerly on fill or cancellation so the queue never holds finalised ids.
type Queue struct {
	tree *btree.BTreeG[*Order]
}

func NewQueue(side Side) *Queue {
	less := func(a, b *Order) bool {
		if !a.Price.Equal(b.Price) {
			if side == SideBuy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		return a.ID < b.ID
	}

	return &Queue{tree: btree.NewBTreeG(less)}
}

func (q *Queue) Insert(o *Order) {
	q.tree.Set(o)
}

func (q *Queue) Remove(o *Order) {
	q.tree.Delete(o)
}

func (q *Queue) Len() int {
	return q.tree.Len()
}

// Scan iterates resting orders in priority order while fn returns true. It
// skips entries whose backing order reached a terminal status; removal is
// eager so this is a defensive check only.
func (q *Queue) Scan(fn func(*Order) bool) {
	q.tree.Scan(func(o *Order) bool {
		if o.Terminal() {
			return true
		}
		return fn(o)
	})
}

// IDs returns a snapshot of the resting order ids in priority order.
func (q *Queue) IDs() []int64 {
	ids := make([]int64, 0, q.tree.Len())
	q.Scan(func(o *Order) bool {
		ids = append(ids, o.ID)
		return true
	})

	return ids
}
