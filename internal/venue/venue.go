// Package venue defines the client contract shared by venue integrations
// and the small pieces of plumbing they have in common.
package venue

import (
	"context"

	"arb_engine/internal/core"
	"arb_engine/internal/state"
)

// Client is one venue integration. A client owns its ExchangeState: it is
// the only writer. Run blocks until the venue fails or the context is
// cancelled; there is no reconnection, the supervisor tears the process
// down on the first error.
type Client interface {
	// ID returns the venue identifier used for action routing.
	ID() string

	// Run connects the venue streams and processes messages until failure
	// or cancellation.
	Run(ctx context.Context) error

	// WaitReady blocks until the client holds a full order book snapshot.
	WaitReady(ctx context.Context) error

	// Execute carries out an action created by the strategy. Order
	// placement that the venue refuses resolves the action as failed;
	// transport exhaustion is returned as an error and is fatal.
	Execute(ctx context.Context, action core.Action) error

	// State returns the venue's exchange state.
	State() *state.ExchangeState

	// UpdateBalance refreshes the balance snapshot over REST.
	UpdateBalance(ctx context.Context) error
}
