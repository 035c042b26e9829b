// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides recorded in the transaction log.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Gain/loss directions reported by history summaries.
const (
	DirectionGain     = "gain"
	DirectionLoss     = "loss"
	DirectionNoChange = "no-change"
)

// Account holds a user's cash balance. Balance is never negative at any
// committed state. Version covers the account/portfolio pair and is bumped
// by every committed mutation; commits carrying a stale version are rejected.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int64           `json:"-" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holding of one symbol. Shares is always > 0 for a
// stored position — a position sold down to zero is removed, not kept.
// AvgCost is the weighted-average purchase price per share; it is recomputed
// on every buy and left untouched by sells.
//
// Display-only figures (current price, current value, profit/loss) are never
// persisted here; they are derived on read by the valuation package.
type Position struct {
	Symbol  string          `json:"symbol" db:"symbol"`
	Shares  int64           `json:"shares" db:"shares"`
	AvgCost decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// Portfolio is the set of positions owned by one account, at most one per
// symbol. Its lifecycle mirrors the account's.
type Portfolio struct {
	UserID    string              `json:"user_id"`
	Positions map[string]Position `json:"positions"`
}

// NewPortfolio creates an empty portfolio for a user.
func NewPortfolio(userID string) *Portfolio {
	return &Portfolio{
		UserID:    userID,
		Positions: make(map[string]Position),
	}
}

// Clone returns a deep copy so callers can mutate freely.
func (p *Portfolio) Clone() *Portfolio {
	cp := NewPortfolio(p.UserID)
	for sym, pos := range p.Positions {
		cp.Positions[sym] = pos
	}
	return cp
}

// Transaction is an immutable record of one committed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      string          `json:"side" db:"side"` // "buy" or "sell"
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"` // price per share at execution
	Total     decimal.Decimal `json:"total" db:"total"` // price * shares
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Quote is the latest known price for a symbol, supplied by the price feed.
type Quote struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Price     decimal.Decimal `json:"price" db:"price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// OHLCV is the open/high/low/close/volume record for one trading day.
type OHLCV struct {
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// PricePoint is one dated entry in a symbol's price history.
// Date is fixed-width ISO-8601 (YYYY-MM-DD), so lexicographic comparison
// orders points chronologically.
type PricePoint struct {
	Date string `json:"date"`
	OHLCV
}

// GainLoss summarizes a symbol's price movement over a date range.
// Computed on demand, never stored.
type GainLoss struct {
	Symbol        string          `json:"symbol"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	FirstClose    decimal.Decimal `json:"first_close"`
	LastClose     decimal.Decimal `json:"last_close"`
	Change        decimal.Decimal `json:"change"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Direction     string          `json:"direction"` // "gain", "loss", or "no-change"
}
