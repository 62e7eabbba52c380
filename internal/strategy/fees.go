package strategy

import "github.com/shopspring/decimal"

var one = decimal.New(1, 0)

// FeeFactor converts a fee rate expressed as a fraction of the gross into
// the post-fee multiplier: receiving X gross yields X * FeeFactor(f) net,
// so FeeFactor(f) * (1 + f) == 1.
func FeeFactor(rate decimal.Decimal) decimal.Decimal {
	return one.Div(one.Add(rate))
}

// CombinedFeeFactor is the round-trip multiplier for a maker entry on the
// buy venue hedged by a taker exit on the sell venue.
func CombinedFeeFactor(makerRate, takerRate decimal.Decimal) decimal.Decimal {
	return FeeFactor(makerRate).Mul(FeeFactor(takerRate))
}

// FeeAsPercentage renders a fractional fee rate as a percentage, for
// logs.
func FeeAsPercentage(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.New(100, 0))
}
