package dedup

import (
	"container/heap"

	"token-sentinel/internal/domain"
)

// signalQueue is a bounded priority queue of pending signals. Warnings rank
// above opportunities, higher scores above lower, and older signals above
// newer as the final tie-breaker.
type signalQueue struct {
	items signalHeap
	depth int
}

func newSignalQueue(depth int) *signalQueue {
	q := &signalQueue{depth: depth}
	heap.Init(&q.items)
	return q
}

// Push inserts a signal. When the queue is full, the oldest of the
// lowest-priority signals (the newly pushed one included) is evicted and
// returned so the caller can record the drop. Returns nil when nothing was
// evicted.
func (q *signalQueue) Push(sig *domain.Signal) *domain.Signal {
	heap.Push(&q.items, sig)
	if len(q.items) <= q.depth {
		return nil
	}

	// Find and remove the eviction victim. The heap only orders the best;
	// the victim needs a scan, which is fine at queue depths this small.
	worst := 0
	for i := 1; i < len(q.items); i++ {
		if evictBefore(q.items[i], q.items[worst]) {
			worst = i
		}
	}
	evicted := q.items[worst]
	heap.Remove(&q.items, worst)
	return evicted
}

// Pop removes and returns the highest-priority signal, or nil when empty.
func (q *signalQueue) Pop() *domain.Signal {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*domain.Signal)
}

// Len reports the number of queued signals.
func (q *signalQueue) Len() int {
	return len(q.items)
}

// signalLess reports whether a ranks strictly ahead of b.
func signalLess(a, b *domain.Signal) bool {
	aw := a.Verdict.Category == domain.CategoryWarning
	bw := b.Verdict.Category == domain.CategoryWarning
	if aw != bw {
		return aw
	}
	if a.Verdict.Score != b.Verdict.Score {
		return a.Verdict.Score > b.Verdict.Score
	}
	return a.EmittedAt < b.EmittedAt
}

// evictBefore reports whether a should be evicted ahead of b when the queue
// overflows: lower priority goes first, and among equal priority the oldest
// signal is dropped rather than the newest.
func evictBefore(a, b *domain.Signal) bool {
	aw := a.Verdict.Category == domain.CategoryWarning
	bw := b.Verdict.Category == domain.CategoryWarning
	if aw != bw {
		return bw
	}
	if a.Verdict.Score != b.Verdict.Score {
		return a.Verdict.Score < b.Verdict.Score
	}
	return a.EmittedAt < b.EmittedAt
}

type signalHeap []*domain.Signal

func (h signalHeap) Len() int            { return len(h) }
func (h signalHeap) Less(i, j int) bool  { return signalLess(h[i], h[j]) }
func (h signalHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *signalHeap) Push(x interface{}) { *h = append(*h, x.(*domain.Signal)) }
func (h *signalHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
