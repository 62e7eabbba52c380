package core

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionStatus is the lifecycle state of an action.
type ActionStatus int

const (
	ActionPending ActionStatus = iota
	ActionSuccess
	ActionFailed
)

func (s ActionStatus) String() string {
	switch s {
	case ActionPending:
		return "pending"
	case ActionSuccess:
		return "success"
	case ActionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action is a request from the strategy to a venue client. It is created by
// the strategy, routed by the coordinator, and mutated only by the venue
// client that executes it. The strategy keeps a reference to observe status
// transitions.
type Action interface {
	Venue() string
}

// CreateOrder asks a venue to place an order. ID doubles as the
// client-order-id sent to the venue, which is how asynchronous accept and
// reject events are matched back to the action.
type CreateOrder struct {
	ID        string
	VenueID   string
	Side      Side
	Type      OrderType
	Amount    decimal.Decimal
	Price     decimal.Decimal // meaningful for TypeLimit only

	mu     sync.Mutex
	status ActionStatus
	order  *Order
}

// NewCreateOrder builds a pending create-order action.
func NewCreateOrder(venueID string, side Side, typ OrderType, amount, price decimal.Decimal) *CreateOrder {
	return &CreateOrder{
		ID:      uuid.NewString(),
		VenueID: venueID,
		Side:    side,
		Type:    typ,
		Amount:  amount,
		Price:   price,
		status:  ActionPending,
	}
}

func (a *CreateOrder) Venue() string { return a.VenueID }

// Status returns the current action status.
func (a *CreateOrder) Status() ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Order returns the venue-assigned order, set when the action succeeds.
func (a *CreateOrder) Order() *Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order
}

// Resolve transitions the action out of pending and back-fills the
// resulting order (nil on failure).
func (a *CreateOrder) Resolve(status ActionStatus, order *Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.order = order
}

// CancelOrder asks a venue to cancel an open order.
type CancelOrder struct {
	VenueID string
	OrderID string

	mu     sync.Mutex
	status ActionStatus
}

// NewCancelOrder builds a pending cancel-order action.
func NewCancelOrder(venueID, orderID string) *CancelOrder {
	return &CancelOrder{VenueID: venueID, OrderID: orderID, status: ActionPending}
}

func (a *CancelOrder) Venue() string { return a.VenueID }

// Status returns the current action status.
func (a *CancelOrder) Status() ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Resolve transitions the action out of pending.
func (a *CancelOrder) Resolve(status ActionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}
