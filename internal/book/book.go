package book

import (
	"github.com/shopspring/decimal"

	"arb_engine/internal/core"
)

// OrderBook is the bid and ask sides of one venue's BTC/USD book. The book
// may cross transiently during a burst of deltas, before the opposite side
// catches up; callers that care about a consistent spread read both tops in
// one critical section (the owning ExchangeState's lock).
type OrderBook struct {
	bids *SortedQuotes
	asks *SortedQuotes
}

// New returns an empty order book.
func New() *OrderBook {
	return &OrderBook{
		bids: NewSortedQuotes(core.SideBid),
		asks: NewSortedQuotes(core.SideAsk),
	}
}

// Bids returns the bid side, best first.
func (b *OrderBook) Bids() *SortedQuotes { return b.bids }

// Asks returns the ask side, best first.
func (b *OrderBook) Asks() *SortedQuotes { return b.asks }

// Side returns the requested side.
func (b *OrderBook) Side(side core.Side) *SortedQuotes {
	if side == core.SideBid {
		return b.bids
	}
	return b.asks
}

// SetQuote applies one level change to the given side.
func (b *OrderBook) SetQuote(side core.Side, price, quantity decimal.Decimal) {
	b.Side(side).SetQuote(price, quantity)
}

// ReplaceFromSnapshot discards the current contents of both sides and
// seeds them from a full snapshot.
func (b *OrderBook) ReplaceFromSnapshot(bids, asks []core.Quote) {
	b.bids.Clear()
	b.asks.Clear()
	for _, q := range bids {
		b.bids.SetQuote(q.Price, q.Quantity)
	}
	for _, q := range asks {
		b.asks.SetQuote(q.Price, q.Quantity)
	}
}

// Spread returns the highest bid and lowest ask. ok is false unless both
// sides have at least one level.
func (b *OrderBook) Spread() (highestBid, lowestAsk core.Quote, ok bool) {
	bid, okBid := b.bids.Top()
	ask, okAsk := b.asks.Top()
	return bid, ask, okBid && okAsk
}
