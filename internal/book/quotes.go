// Package book implements the side-sorted order book reconstructed from a
// venue's snapshot + delta stream.
package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"arb_engine/internal/core"
)

// SortedQuotes is an ordered price -> quantity mapping for one side of a
// book. Bids are ordered descending (best bid at index 0), asks ascending
// (best ask at index 0). Prices are unique and quantities strictly positive.
type SortedQuotes struct {
	side   core.Side
	levels []core.Quote
}

// NewSortedQuotes returns an empty side with the given ordering.
func NewSortedQuotes(side core.Side) *SortedQuotes {
	return &SortedQuotes{side: side}
}

// Side returns the side this mapping orders for.
func (q *SortedQuotes) Side() core.Side { return q.side }

// Len returns the number of price levels.
func (q *SortedQuotes) Len() int { return len(q.levels) }

// search returns the insertion index for price and whether an exact level
// exists there already.
func (q *SortedQuotes) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(q.levels), func(i int) bool {
		if q.side == core.SideBid {
			// Descending: stop at the first level priced <= price.
			return q.levels[i].Price.LessThanOrEqual(price)
		}
		return q.levels[i].Price.GreaterThanOrEqual(price)
	})
	if i < len(q.levels) && q.levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// SetQuote inserts or replaces the level at price. A zero quantity deletes
// the level; deleting an absent level is a no-op because venues emit such
// removals after late snapshots. Negative price or quantity is a
// programming error.
func (q *SortedQuotes) SetQuote(price, quantity decimal.Decimal) {
	if price.IsNegative() || quantity.IsNegative() {
		panic(fmt.Sprintf("book: negative quote %s @ %s", quantity, price))
	}
	i, found := q.search(price)
	if quantity.IsZero() {
		if found {
			q.levels = append(q.levels[:i], q.levels[i+1:]...)
		}
		return
	}
	if found {
		q.levels[i].Quantity = quantity
		return
	}
	q.levels = append(q.levels, core.Quote{})
	copy(q.levels[i+1:], q.levels[i:])
	q.levels[i] = core.Quote{Price: price, Quantity: quantity}
}

// At returns the level at index i in side order (index 0 is top of book).
func (q *SortedQuotes) At(i int) core.Quote { return q.levels[i] }

// Top returns the best level, if any.
func (q *SortedQuotes) Top() (core.Quote, bool) {
	if len(q.levels) == 0 {
		return core.Quote{}, false
	}
	return q.levels[0], true
}

// Quantity returns the quantity resting at price, or zero if absent.
func (q *SortedQuotes) Quantity(price decimal.Decimal) decimal.Decimal {
	if i, found := q.search(price); found {
		return q.levels[i].Quantity
	}
	return decimal.Zero
}

// Walk visits levels from the top of the book until fn returns false.
func (q *SortedQuotes) Walk(fn func(core.Quote) bool) {
	for _, lvl := range q.levels {
		if !fn(lvl) {
			return
		}
	}
}

// Clear removes every level.
func (q *SortedQuotes) Clear() { q.levels = q.levels[:0] }
