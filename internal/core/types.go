// Package core defines the canonical exchange-state model shared by the
// venue clients, the strategy, and the coordinator.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the side of an order or quote.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// OrderType distinguishes resting limit orders from marketable orders.
type OrderType int

const (
	TypeLimit OrderType = iota
	TypeMarket
)

func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "limit"
	case TypeMarket:
		return "market"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// OrderStatus is the lifecycle state of an order on a venue.
type OrderStatus int

const (
	StatusOpen OrderStatus = iota
	StatusClosed
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further mutation of the order is permitted.
func (s OrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Quote is one price level of an order book. Quantity zero is the removal
// sentinel on the wire and never appears inside a book.
type Quote struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Order is the canonical view of one venue order.
//
// Invariants: Amount = Filled + Remaining at all times, Filled is
// monotonically non-decreasing, Price is set iff Type is TypeLimit, and a
// terminal Status forbids further mutation.
type Order struct {
	OrderID      string
	Symbol       string
	Side         Side
	Type         OrderType
	Amount       decimal.Decimal
	Price        decimal.Decimal
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AveragePrice decimal.Decimal
	Status       OrderStatus
}

// Validate checks the order's internal invariants.
func (o *Order) Validate() error {
	if !o.Amount.Equal(o.Filled.Add(o.Remaining)) {
		return fmt.Errorf("order %s: amount %s != filled %s + remaining %s",
			o.OrderID, o.Amount, o.Filled, o.Remaining)
	}
	if o.Filled.IsNegative() || o.Remaining.IsNegative() {
		return fmt.Errorf("order %s: negative fill state", o.OrderID)
	}
	return nil
}
