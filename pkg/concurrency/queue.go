// Package concurrency holds the queueing and dispatch primitives shared by
// the venue clients and the coordinator.
package concurrency

import (
	"context"
	"sync"

	"arb_engine/internal/core"
)

// warnDepth is the queue depth at which back-pressure is logged. Nothing is
// ever dropped; a stalled consumer shows up as latency, not data loss.
const warnDepth = 100

// Queue is an unbounded FIFO. Put never blocks; Get blocks until an item is
// available or the context is cancelled.
type Queue[T any] struct {
	name   string
	logger core.ILogger

	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

// NewQueue creates a queue. The logger receives depth warnings.
func NewQueue[T any](name string, logger core.ILogger) *Queue[T] {
	q := &Queue[T]{name: name, logger: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends an item.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()
	q.cond.Signal()

	if depth >= warnDepth && q.logger != nil {
		q.logger.Warn("queue backlog", "queue", q.name, "depth", depth)
	}
}

// Get removes and returns the oldest item, blocking until one is available.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	// Wake the waiter if the context dies while we block on the cond.
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Len returns the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue is momentarily empty. Queue consumers use
// it to coalesce notifications: defer the update callback while more
// messages are pending.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}
