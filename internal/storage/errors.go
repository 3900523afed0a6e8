package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Position invariant errors. These always indicate a race or manual data
// tampering and must be surfaced to the caller.
var (
	// ErrAllocationConflict is returned when a wallet became bound or
	// disabled between selection and bind.
	ErrAllocationConflict = errors.New("allocation conflict: wallet is no longer free")

	// ErrWalletAlreadyOpen is returned when opening a position for a wallet
	// that already has an open position.
	ErrWalletAlreadyOpen = errors.New("wallet already has an open position")

	// ErrTokenAlreadyOpen is returned when opening a position for a token
	// that already has an open position.
	ErrTokenAlreadyOpen = errors.New("token already has an open position")

	// ErrAlreadyClosed is returned when closing a position twice.
	ErrAlreadyClosed = errors.New("position already closed")

	// ErrNotBound is returned when releasing a wallet that is not bound.
	ErrNotBound = errors.New("wallet is not bound to a token")
)
