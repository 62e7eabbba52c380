// Package num holds the decimal rounding rules for the trading domain:
// quantities in BTC with a 1-satoshi minimum unit, prices in USD with a
// 1-cent minimum unit.
package num

import "github.com/shopspring/decimal"

var (
	// OneSatoshi is the minimum quantity unit (1e-8 BTC).
	OneSatoshi = decimal.New(1, -8)
	// OneCent is the minimum price unit (1e-2 USD).
	OneCent = decimal.New(1, -2)
)

// RoundToSatoshi rounds to 8 decimal places, half up.
func RoundToSatoshi(d decimal.Decimal) decimal.Decimal {
	return d.Round(8)
}

// RoundToCents rounds to 2 decimal places, half up.
func RoundToCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundDownToCents truncates to 2 decimal places.
func RoundDownToCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(2)
}

// FloorToMillis truncates to 3 decimal places of BTC. Used when sizing an
// order against an available balance: never round an affordability figure up.
func FloorToMillis(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(3)
}
