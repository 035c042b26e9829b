// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/trendify/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by CommitTrade when the stored version no
	// longer matches the version the caller read. The caller must re-read
	// current state and recompute before retrying.
	ErrConflict = errors.New("store: version conflict")

	// ErrExists is returned when creating a record that already exists.
	ErrExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts & portfolios ---

	// CreateAccount persists a new account with an empty portfolio.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetPortfolio retrieves a user's portfolio. A user with an account but
	// no positions gets an empty portfolio, not ErrNotFound.
	GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error)

	// CommitTrade atomically persists the mutated account/portfolio pair and
	// appends the transaction, all-or-nothing. acct.Version must be exactly
	// one greater than the stored version or the commit fails with
	// ErrConflict and nothing is written. pf may be nil when only the
	// balance changed (deposits); txn may be nil when no trade record is
	// appended.
	CommitTrade(ctx context.Context, acct *model.Account, pf *model.Portfolio, txn *model.Transaction) error

	// --- Immutable transaction log ---

	// ListTransactions returns a user's transactions in execution order.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Price data (written by the feed, read-only for the executor) ---

	// SetLatestQuote upserts the latest price for a symbol.
	SetLatestQuote(ctx context.Context, q *model.Quote) error

	// GetLatestQuote retrieves the latest price for a symbol.
	GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error)

	// ListQuotes returns the latest quote for every known symbol.
	ListQuotes(ctx context.Context) ([]model.Quote, error)

	// SetPriceHistory replaces a symbol's daily OHLCV series.
	SetPriceHistory(ctx context.Context, symbol string, series []model.PricePoint) error

	// GetPriceHistory returns a symbol's series in ascending date order.
	GetPriceHistory(ctx context.Context, symbol string) ([]model.PricePoint, error)

	// ListHistorySymbols returns all symbols that have stored history.
	ListHistorySymbols(ctx context.Context) ([]string, error)
}
