// Package ledger implements the trading ledger: buy/sell execution against
// externally supplied prices, atomic balance/portfolio/transaction commits,
// and the HTTP surface exposing them.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/metrics"
	"github.com/trendify/trading-engine/internal/model"
	"github.com/trendify/trading-engine/internal/store"
)

// commitRetries bounds internal re-execution on version conflicts. Each
// retry re-reads fresh state; only store.ErrConflict is retried, every
// other failure propagates immediately.
const commitRetries = 3

// symbolRe matches plain US-style tickers: AAPL, GOOGL, BRK.B.
var symbolRe = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

// Executor orchestrates trades. Mutations for one user are serialized
// through a per-user mutex; trades for different users never block each
// other. The optimistic version on the account/portfolio pair additionally
// protects against out-of-band writers (e.g. another instance).
type Executor struct {
	store store.Store

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewExecutor creates a trade executor over the given store.
func NewExecutor(st store.Store) *Executor {
	return &Executor{
		store: st,
		users: make(map[string]*sync.Mutex),
	}
}

// TradeResult is the committed outcome of one trade.
type TradeResult struct {
	Account     *model.Account     `json:"account"`
	Portfolio   *model.Portfolio   `json:"portfolio"`
	Transaction *model.Transaction `json:"transaction"`
}

// lockUser admits the caller to the user's critical section and returns the
// unlock func. Lock values are never removed from the map; the set of
// active users is small and bounded.
func (e *Executor) lockUser(userID string) func() {
	e.mu.Lock()
	lock, ok := e.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.users[userID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ExecuteBuy buys shares of symbol at the current quote, debiting the cost
// and recomputing the position's weighted-average cost. The three-record
// mutation commits as one unit or not at all.
func (e *Executor) ExecuteBuy(ctx context.Context, userID, symbol string, shares int64) (*TradeResult, error) {
	if err := validateTradeInput(userID, symbol, shares); err != nil {
		return nil, reject("invalid_input", err)
	}

	unlock := e.lockUser(userID)
	defer unlock()

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		quote, err := e.store.GetLatestQuote(ctx, symbol)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject("price_unavailable", fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol))
		}
		if err != nil {
			return nil, err
		}

		cost := quote.Price.Mul(decimal.NewFromInt(shares))

		acct, err := e.store.GetAccount(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject("account_not_found", fmt.Errorf("%w: %s", ErrAccountNotFound, userID))
		}
		if err != nil {
			return nil, err
		}

		if acct.Balance.LessThan(cost) {
			return nil, reject("insufficient_funds", ErrInsufficientFunds)
		}

		pf, err := e.store.GetPortfolio(ctx, userID)
		if err != nil {
			return nil, err
		}

		pf.Positions[symbol] = buyPosition(pf.Positions[symbol], symbol, shares, quote.Price)
		acct.Balance = acct.Balance.Sub(cost)
		acct.Version++

		txn := newTransaction(userID, symbol, model.SideBuy, shares, quote.Price, cost)

		if err := e.store.CommitTrade(ctx, acct, pf, txn); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, reject("account_not_found", fmt.Errorf("%w: %s", ErrAccountNotFound, userID))
			}
			return nil, err
		}

		e.observeTrade(model.SideBuy, txn, acct, start)
		return &TradeResult{Account: acct, Portfolio: pf, Transaction: txn}, nil
	}

	return nil, reject("commit_conflict", fmt.Errorf("%w: %v", ErrCommitConflict, lastErr))
}

// ExecuteSell sells shares of symbol at the current quote, crediting the
// proceeds. The remaining shares keep their average cost unchanged
// (weighted-average convention); a position sold to zero is removed.
func (e *Executor) ExecuteSell(ctx context.Context, userID, symbol string, shares int64) (*TradeResult, error) {
	if err := validateTradeInput(userID, symbol, shares); err != nil {
		return nil, reject("invalid_input", err)
	}

	unlock := e.lockUser(userID)
	defer unlock()

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		quote, err := e.store.GetLatestQuote(ctx, symbol)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject("price_unavailable", fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol))
		}
		if err != nil {
			return nil, err
		}

		acct, err := e.store.GetAccount(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject("account_not_found", fmt.Errorf("%w: %s", ErrAccountNotFound, userID))
		}
		if err != nil {
			return nil, err
		}

		pf, err := e.store.GetPortfolio(ctx, userID)
		if err != nil {
			return nil, err
		}

		pos, ok := pf.Positions[symbol]
		if !ok {
			return nil, reject("position_not_found", fmt.Errorf("%w: %s", ErrPositionNotFound, symbol))
		}
		if pos.Shares < shares {
			return nil, reject("insufficient_shares", ErrInsufficientShares)
		}

		proceeds := quote.Price.Mul(decimal.NewFromInt(shares))

		pos.Shares -= shares
		if pos.Shares == 0 {
			delete(pf.Positions, symbol)
		} else {
			pf.Positions[symbol] = pos
		}

		acct.Balance = acct.Balance.Add(proceeds)
		acct.Version++

		txn := newTransaction(userID, symbol, model.SideSell, shares, quote.Price, proceeds)

		if err := e.store.CommitTrade(ctx, acct, pf, txn); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, reject("account_not_found", fmt.Errorf("%w: %s", ErrAccountNotFound, userID))
			}
			return nil, err
		}

		e.observeTrade(model.SideSell, txn, acct, start)
		return &TradeResult{Account: acct, Portfolio: pf, Transaction: txn}, nil
	}

	return nil, reject("commit_conflict", fmt.Errorf("%w: %v", ErrCommitConflict, lastErr))
}

// CreateAccount registers a new account with a starting balance. Called by
// the signup glue, not by trading paths.
func (e *Executor) CreateAccount(ctx context.Context, userID string, balance decimal.Decimal) (*model.Account, error) {
	if userID == "" || balance.IsNegative() {
		return nil, ErrInvalidInput
	}

	acct := &model.Account{
		UserID:    userID,
		Balance:   balance,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, userID)
		}
		return nil, err
	}

	slog.Info("account created", "user", userID, "balance", balance.String())
	return acct, nil
}

// Deposit credits the balance through the same versioned commit path as
// trades, so concurrent deposits and trades cannot lose updates.
func (e *Executor) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	if userID == "" || !amount.IsPositive() {
		return nil, ErrInvalidInput
	}

	unlock := e.lockUser(userID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		acct, err := e.store.GetAccount(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		if err != nil {
			return nil, err
		}

		acct.Balance = acct.Balance.Add(amount)
		acct.Version++

		if err := e.store.CommitTrade(ctx, acct, nil, nil); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		slog.Info("deposit committed", "user", userID, "amount", amount.String(), "balance", acct.Balance.String())
		return acct, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrCommitConflict, lastErr)
}

func validateTradeInput(userID, symbol string, shares int64) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("%w: malformed symbol %q", ErrInvalidInput, symbol)
	}
	if shares <= 0 {
		return fmt.Errorf("%w: shares must be positive", ErrInvalidInput)
	}
	return nil
}

func buyPosition(existing model.Position, symbol string, shares int64, price decimal.Decimal) model.Position {
	if existing.Shares == 0 {
		return model.Position{Symbol: symbol, Shares: shares, AvgCost: price}
	}

	// Weighted-average cost across the old lot and the new fill.
	oldShares := decimal.NewFromInt(existing.Shares)
	newShares := decimal.NewFromInt(shares)
	totalShares := oldShares.Add(newShares)
	avgCost := existing.AvgCost.Mul(oldShares).
		Add(price.Mul(newShares)).
		Div(totalShares)

	return model.Position{
		Symbol:  symbol,
		Shares:  existing.Shares + shares,
		AvgCost: avgCost,
	}
}

func newTransaction(userID, symbol, side string, shares int64, price, total decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Shares:    shares,
		Price:     price,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Executor) observeTrade(side string, txn *model.Transaction, acct *model.Account, start time.Time) {
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade committed",
		"trade_id", txn.ID,
		"user", txn.UserID,
		"symbol", txn.Symbol,
		"side", side,
		"shares", txn.Shares,
		"price", txn.Price.String(),
		"total", txn.Total.String(),
		"balance", acct.Balance.String(),
	)
}

// reject counts a refused trade and passes the error through unchanged.
func reject(reason string, err error) error {
	metrics.TradeRejections.WithLabelValues(reason).Inc()
	return err
}
