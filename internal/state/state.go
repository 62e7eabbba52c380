// Package state holds the per-venue exchange state: order book, open
// orders, balances, and the update publisher. Each ExchangeState has
// exactly one writer (its venue client); observers subscribe through the
// publisher and re-read under the read lock.
package state

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"arb_engine/internal/book"
	"arb_engine/internal/core"
	apperrors "arb_engine/pkg/errors"
)

// ExchangeState is the canonical view of one venue. All mutation goes
// through Write so that readers always observe a consistent snapshot per
// message; the publisher is fired by the venue client after the write lock
// is released.
type ExchangeState struct {
	venueID   string
	publisher Publisher

	mu      sync.RWMutex
	book    *book.OrderBook
	orders  map[string]*core.Order
	balance *Balance
}

// NewExchangeState creates the state container for a venue. It lives for
// the lifetime of the coordinator.
func NewExchangeState(venueID string) *ExchangeState {
	return &ExchangeState{
		venueID: venueID,
		book:    book.New(),
		orders:  make(map[string]*core.Order),
		balance: NewBalance(),
	}
}

// VenueID returns the owning venue's identifier.
func (s *ExchangeState) VenueID() string { return s.venueID }

// Publisher returns the update notifier for this venue's state.
func (s *ExchangeState) Publisher() *Publisher { return &s.publisher }

// Write runs fn with exclusive access to the book, orders, and balance.
// Only the owning venue client may call Write.
func (s *ExchangeState) Write(fn func(b *book.OrderBook, bal *Balance) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.book, s.balance)
}

// Read runs fn with shared access to the book and balance.
func (s *ExchangeState) Read(fn func(b *book.OrderBook, bal *Balance)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.book, s.balance)
}

// Order returns a copy of the order with the given id.
func (s *ExchangeState) Order(orderID string) (core.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// OpenOrders returns copies of all non-terminal orders.
func (s *ExchangeState) OpenOrders() []core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []core.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			open = append(open, *o)
		}
	}
	return open
}

// SetOrder stores a new order record. Storing over an existing id is an
// order-id collision and is rejected: venues only announce each order once.
func (s *ExchangeState) SetOrder(o core.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.OrderID]; exists {
		return fmt.Errorf("%w: order %s already tracked on %s",
			apperrors.ErrOrderCollision, o.OrderID, s.venueID)
	}
	cp := o
	s.orders[o.OrderID] = &cp
	return nil
}

// UpdateOrder mutates the tracked order under the write lock. The update is
// rejected if the order is unknown, already terminal, if fn shrinks the
// filled amount, or if it breaks amount = filled + remaining.
func (s *ExchangeState) UpdateOrder(orderID string, fn func(o *core.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s on %s", apperrors.ErrUnknownOrder, orderID, s.venueID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s on %s is %s and cannot change",
			orderID, s.venueID, o.Status)
	}
	prevFilled := o.Filled
	if err := fn(o); err != nil {
		return err
	}
	if o.Filled.LessThan(prevFilled) {
		return fmt.Errorf("order %s on %s: filled moved backwards %s -> %s",
			orderID, s.venueID, prevFilled, o.Filled)
	}
	return o.Validate()
}

// TopBid returns the best bid, if the book has one.
func (s *ExchangeState) TopBid() (core.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Bids().Top()
}

// TopAsk returns the best ask, if the book has one.
func (s *ExchangeState) TopAsk() (core.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Asks().Top()
}

// WalkBids visits bid levels best-first under the read lock until fn
// returns false.
func (s *ExchangeState) WalkBids(fn func(core.Quote) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.book.Bids().Walk(fn)
}

// FreeBalance returns the free amount of currency.
func (s *ExchangeState) FreeBalance(currency string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance.Free(currency)
}
