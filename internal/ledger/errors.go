package ledger

import "errors"

// Trade failure taxonomy. Every failed trade surfaces exactly one of these
// so the presentation layer can show an actionable message; nothing is
// logged-and-swallowed.
var (
	// ErrInvalidInput rejects non-positive share counts, malformed symbols
	// and non-positive amounts before any I/O happens.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrPriceUnavailable is returned when a symbol has no current quote.
	ErrPriceUnavailable = errors.New("ledger: price unavailable")

	// ErrAccountNotFound is returned when the referenced account is absent.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrAccountExists is returned when creating an account that exists.
	ErrAccountExists = errors.New("ledger: account already exists")

	// ErrPositionNotFound is returned by sells against a symbol the
	// portfolio does not hold.
	ErrPositionNotFound = errors.New("ledger: position not found")

	// ErrInsufficientFunds is returned when a buy exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held shares.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrCommitConflict is returned after the bounded internal retries are
	// exhausted; the caller may resubmit, which is a fresh trade.
	ErrCommitConflict = errors.New("ledger: commit conflict")
)
