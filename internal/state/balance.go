package state

import "github.com/shopspring/decimal"

// Balance maps a currency symbol to its free and on-hold amounts. Lookup of
// an unknown currency returns zero rather than failing. Not safe for
// concurrent use on its own; the owning ExchangeState serializes access.
type Balance struct {
	free   map[string]decimal.Decimal
	onHold map[string]decimal.Decimal
}

// NewBalance returns an empty balance.
func NewBalance() *Balance {
	return &Balance{
		free:   make(map[string]decimal.Decimal),
		onHold: make(map[string]decimal.Decimal),
	}
}

// Free returns the freely tradable amount of currency.
func (b *Balance) Free(currency string) decimal.Decimal {
	return b.free[currency]
}

// OnHold returns the amount of currency locked by open orders.
func (b *Balance) OnHold(currency string) decimal.Decimal {
	return b.onHold[currency]
}

// SetFree records the free amount for currency.
func (b *Balance) SetFree(currency string, amount decimal.Decimal) {
	b.free[currency] = amount
}

// SetOnHold records the on-hold amount for currency.
func (b *Balance) SetOnHold(currency string, amount decimal.Decimal) {
	b.onHold[currency] = amount
}
