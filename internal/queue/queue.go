// Package queue provides the change queue between the file watcher and the
// sync engine: priority tiers with FIFO order inside each tier, and
// in-place coalescing so a file edited again while still queued keeps its
// position but carries the latest content.
package queue

import (
	"sync"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// Priority orders queue tiers. Higher drains first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh

	priorityCount = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a defined priority.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// Change is one detected file modification, carrying a content snapshot
// taken at detection time so later edits cannot race the conversion.
type Change struct {
	Path       string
	Side       ir.Side
	Priority   Priority
	DetectedAt time.Time
	Content    []byte
}

// Queue is a thread-safe priority queue of Changes.
//
// Coalescing rule: enqueueing a path that is already queued replaces the
// existing entry's Content and DetectedAt in place. Its position and
// priority tier are untouched, which yields latest-content-wins debouncing
// without starving older unrelated files.
//
// The queue is unbounded; watch bursts must never block the watcher
// goroutine. A buffered signal channel lets the engine wait for work
// without polling while staying responsive to context cancellation.
type Queue struct {
	mu     sync.Mutex
	tiers  [priorityCount][]Change
	closed bool
	signal chan struct{} // buffered size 1, coalesces wakeups
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{
		signal: make(chan struct{}, 1),
	}
	for i := range q.tiers {
		q.tiers[i] = make([]Change, 0, 16)
	}
	return q
}

// Enqueue adds or coalesces a change. Thread-safe, callable from any
// goroutine. Returns false if the queue is closed.
func (q *Queue) Enqueue(ch Change) bool {
	if !ch.Priority.Valid() {
		ch.Priority = PriorityNormal
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	for tier := range q.tiers {
		for i := range q.tiers[tier] {
			if q.tiers[tier][i].Path == ch.Path {
				// Same file edited again while queued: latest content
				// wins, position and tier stay put.
				q.tiers[tier][i].Content = ch.Content
				q.tiers[tier][i].DetectedAt = ch.DetectedAt
				q.signalLocked()
				return true
			}
		}
	}

	q.tiers[ch.Priority] = append(q.tiers[ch.Priority], ch)
	q.signalLocked()
	return true
}

// TryDequeue removes and returns the front change of the highest non-empty
// tier without blocking. Returns false when every tier is empty. Remaining
// entries stay dequeueable after Close so shutdown can drain.
func (q *Queue) TryDequeue() (Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := PriorityHigh; p >= PriorityLow; p-- {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		ch := tier[0]

		// Zero the slot so the Content snapshot can be collected; the
		// backing array keeps the reference alive otherwise.
		tier[0] = Change{}
		if len(tier) == 1 {
			q.tiers[p] = tier[:0]
		} else {
			q.tiers[p] = tier[1:]
		}
		return ch, true
	}
	return Change{}, false
}

// Wait returns a channel that signals when changes may be available. Use
// with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // drain with TryDequeue until false
//	}
//
// One signal can cover several queued changes, so always drain.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the total queued count across tiers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.tiers {
		n += len(q.tiers[i])
	}
	return n
}

// Snapshot returns the queued changes in dequeue order. The slice is a
// copy; Content slices are shared.
func (q *Queue) Snapshot() []Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Change, 0, 16)
	for p := PriorityHigh; p >= PriorityLow; p-- {
		out = append(out, q.tiers[p]...)
	}
	return out
}

// Close marks the queue closed and wakes all waiters. Enqueue refuses new
// changes afterwards; queued changes remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) signalLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
