// Package apperrors defines the sentinel errors of the engine. Every kind
// listed here is fatal when it reaches the supervisor; there is no silent
// recovery in the core.
package apperrors

import "errors"

var (
	// Protocol violations on a venue stream.
	ErrSequenceGap        = errors.New("socket sequence gap")
	ErrHeartbeatSequence  = errors.New("heartbeat sequence mismatch")
	ErrHeartbeatInterval  = errors.New("heartbeat interval out of bounds")
	ErrHeartbeatStale     = errors.New("heartbeat stale")
	ErrUnexpectedMessage  = errors.New("unexpected message type")
	ErrSubscriptionFailed = errors.New("subscription acknowledgement mismatch")

	// Canonical-state violations.
	ErrOrderCollision   = errors.New("order id collision")
	ErrUnknownOrder     = errors.New("unknown order id")
	ErrNoMatchingAction = errors.New("no action matches venue response")

	// Venue request failures.
	ErrVenueRequest         = errors.New("venue request failed")
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Strategy failures.
	ErrStrategyContract    = errors.New("strategy contract violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientDepth   = errors.New("order book depth cannot fill quantity")

	// Coordinator failures.
	ErrUnknownVenue = errors.New("action routed to unknown venue")
)
