package concurrency

import (
	"github.com/alitto/pond"

	"arb_engine/internal/core"
)

// Serializer funnels callbacks from many producers (venue publishers, the
// timer) onto one worker so that at most one invocation is in flight. The
// strategy requires this: it is never re-entered.
type Serializer struct {
	pool   *pond.WorkerPool
	logger core.ILogger
}

// NewSerializer creates a single-worker serializer with the given pending
// capacity.
func NewSerializer(capacity int, logger core.ILogger) *Serializer {
	if capacity <= 0 {
		capacity = 256
	}
	pool := pond.New(1, capacity,
		pond.MinWorkers(1),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("serialized task panicked", "panic", p)
		}),
	)
	return &Serializer{pool: pool, logger: logger}
}

// Submit enqueues fn for serialized execution. If the backlog is full the
// submission is dropped: callbacks are edge signals ("state changed") and a
// pending run already covers the change.
func (s *Serializer) Submit(fn func()) {
	if !s.pool.TrySubmit(fn) {
		s.logger.Debug("serializer backlog full, coalescing")
	}
}

// Stop drains outstanding work and stops the worker.
func (s *Serializer) Stop() {
	s.pool.StopAndWait()
}
