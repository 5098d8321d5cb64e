// Package inbox provides the FIFO handoff between the transport goroutine and
// the single consumer that applies commands.
package inbox

import (
	"fmt"
	"strings"
	"sync"
)

// OverflowPolicy selects what Push does when a bounded queue is full.
type OverflowPolicy int

const (
	// DropNewest rejects the incoming item and counts it as dropped.
	DropNewest OverflowPolicy = iota
	// Block waits until the consumer makes room or the queue is closed.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy accepts the config spellings "drop" and "block".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return DropNewest, nil
	case "block":
		return Block, nil
	default:
		return DropNewest, fmt.Errorf("unsupported overflow policy %q: expected drop or block", s)
	}
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Depth    int    `json:"depth"`
	MaxDepth int    `json:"max_depth"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
}

// Queue is a mutex-guarded FIFO. A zero capacity means unbounded, which lets
// the queue grow without limit while the consumer is paused.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	head     int
	capacity int
	policy   OverflowPolicy
	closed   bool

	maxDepth int
	pushed   uint64
	popped   uint64
	dropped  uint64
}

// New returns a queue. capacity <= 0 means unbounded; policy only applies to
// bounded queues.
func New[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue[T]{capacity: capacity, policy: policy}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It reports false if the item was not queued, either
// because the queue is closed or because it was full under DropNewest.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.full() {
		if q.policy != Block {
			q.dropped++
			return false
		}
		q.notFull.Wait()
	}
	if q.closed {
		q.dropped++
		return false
	}

	q.items = append(q.items, item)
	q.pushed++
	if d := q.depth(); d > q.maxDepth {
		q.maxDepth = d
	}
	return true
}

// Pop removes the oldest item. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.depth() == 0 {
		return item, false
	}
	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.popped++
	q.compact()
	q.notFull.Signal()
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth()
}

// Capacity returns the configured bound, 0 for unbounded.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Stats returns the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:    q.depth(),
		MaxDepth: q.maxDepth,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
	}
}

// Close rejects further pushes and releases producers blocked on a full
// queue. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
}

// Drain discards every queued item and returns how many were removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.depth()
	q.items = nil
	q.head = 0
	q.popped += uint64(n)
	q.notFull.Broadcast()
	return n
}

func (q *Queue[T]) depth() int { return len(q.items) - q.head }

func (q *Queue[T]) full() bool { return q.capacity > 0 && q.depth() >= q.capacity }

// compact reclaims the consumed prefix once it dominates the backing array.
func (q *Queue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		var zero T
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
}
