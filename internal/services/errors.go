package services

import "errors"

// Error taxonomy of the payments core. Ledger-level rejections never leave
// partial state: an adjustment either fully applies or not at all.
var (
	// ErrInsufficientFunds is returned when an adjustment would drive a
	// wallet balance below zero. Recoverable; surfaced to the caller.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNegativePot is returned when a negative pot delta would drive the
	// distributable pool below zero.
	ErrNegativePot = errors.New("pot cannot be negative")

	// ErrNoPotAvailable is returned by payout when the pot is empty or the
	// pot record does not exist.
	ErrNoPotAvailable = errors.New("no pot available")

	// ErrDuplicateIdempotencyKey is returned when a client retries a request
	// with a previously used idempotency key. The client should fetch the
	// original transaction instead.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrUnknownProvider is returned when an operation names a provider that
	// was not configured at startup.
	ErrUnknownProvider = errors.New("unknown payment provider")
)
