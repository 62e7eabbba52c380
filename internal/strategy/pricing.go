package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"arb_engine/internal/core"
	apperrors "arb_engine/pkg/errors"
)

// BidWalker yields bid levels best-first until the callback returns
// false. *state.ExchangeState satisfies it.
type BidWalker interface {
	WalkBids(fn func(core.Quote) bool)
}

// EffectiveSellPrice is the volume-weighted price at which a market ask
// of the given quantity would fill against the current bids: the walk
// consumes levels from the top, clipping the last one to the remainder.
// A book too thin to absorb the quantity is an error; a hedge that
// cannot execute must not be entered.
func EffectiveSellPrice(quantity decimal.Decimal, bids BidWalker) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("effective sell price: non-positive quantity %s", quantity)
	}

	remaining := quantity
	notional := decimal.Zero
	bids.WalkBids(func(q core.Quote) bool {
		take := q.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(q.Price))
		remaining = remaining.Sub(take)
		return remaining.IsPositive()
	})

	if remaining.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: bids absorb only %s of %s",
			apperrors.ErrInsufficientDepth, quantity.Sub(remaining), quantity)
	}
	return notional.Div(quantity), nil
}
