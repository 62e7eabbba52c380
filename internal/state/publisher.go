package state

import "sync"

// Publisher notifies subscribers that the state they observe has changed.
// Subscribers receive an event, not a payload; they re-read the state.
type Publisher struct {
	mu          sync.Mutex
	subscribers []func()
}

// Subscribe registers a callback fired on every notification. Callbacks run
// on the notifying goroutine and must not block.
func (p *Publisher) Subscribe(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Notify fires all subscribed callbacks. The caller must not hold the
// owning ExchangeState's lock: subscribers re-read the state.
func (p *Publisher) Notify() {
	p.mu.Lock()
	subs := make([]func(), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
