package venue

import (
	"context"
	"sync"
)

// ReadyGate is a one-shot latch. Venue clients set it once their first
// order book snapshot has been applied; the coordinator waits on both
// gates before starting the strategy.
type ReadyGate struct {
	once sync.Once
	ch   chan struct{}
}

// NewReadyGate returns an unset gate.
func NewReadyGate() *ReadyGate {
	return &ReadyGate{ch: make(chan struct{})}
}

// Set opens the gate. Subsequent calls are no-ops.
func (g *ReadyGate) Set() {
	g.once.Do(func() { close(g.ch) })
}

// IsSet reports whether the gate has opened.
func (g *ReadyGate) IsSet() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or the context is cancelled.
func (g *ReadyGate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
