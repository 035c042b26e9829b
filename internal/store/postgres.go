package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, version, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.Balance.String(), a.Version, a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, version, created_at
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, shares, avg_cost::TEXT
		 FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pf := model.NewPortfolio(userID)
	for rows.Next() {
		var p model.Position
		var avgCost string
		if err := rows.Scan(&p.Symbol, &p.Shares, &avgCost); err != nil {
			return nil, err
		}
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		pf.Positions[p.Symbol] = p
	}
	return pf, rows.Err()
}

// CommitTrade runs the three-record mutation in a single database
// transaction. The version predicate on the account row detects concurrent
// writers; a stale version rolls everything back and reports ErrConflict.
func (s *PostgresStore) CommitTrade(ctx context.Context, a *model.Account, pf *model.Portfolio, txn *model.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, version = $3
		 WHERE user_id = $1 AND version = $4`,
		a.UserID, a.Balance.String(), a.Version, a.Version-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, a.UserID).
			Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	if pf != nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE user_id = $1`, a.UserID); err != nil {
			return err
		}
		for _, p := range pf.Positions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO positions (user_id, symbol, shares, avg_cost)
				 VALUES ($1, $2, $3, $4::NUMERIC)`,
				a.UserID, p.Symbol, p.Shares, p.AvgCost.String()); err != nil {
				return err
			}
		}
	}

	if txn != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, user_id, symbol, side, shares, price, total, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
			txn.ID, txn.UserID, txn.Symbol, txn.Side, txn.Shares,
			txn.Price.String(), txn.Total.String(), txn.Timestamp); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, side, shares, price::TEXT, total::TEXT, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Shares,
			&price, &total, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) SetLatestQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotes (symbol, price, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		q.Symbol, q.Price.String(), q.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var q model.Quote
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, price::TEXT, updated_at FROM quotes WHERE symbol = $1`, symbol).
		Scan(&q.Symbol, &price, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote %s: %w", symbol, err)
	}

	q.Price, _ = decimal.NewFromString(price)
	return &q, nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price::TEXT, updated_at FROM quotes ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var price string
		if err := rows.Scan(&q.Symbol, &price, &q.UpdatedAt); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(price)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) SetPriceHistory(ctx context.Context, symbol string, series []model.PricePoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM price_history WHERE symbol = $1`, symbol); err != nil {
		return err
	}
	for _, pt := range series {
		if _, err := tx.Exec(ctx,
			`INSERT INTO price_history (symbol, date, open, high, low, close, volume)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
			symbol, pt.Date,
			pt.Open.String(), pt.High.String(), pt.Low.String(), pt.Close.String(),
			pt.Volume); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, open::TEXT, high::TEXT, low::TEXT, close::TEXT, volume
		 FROM price_history WHERE symbol = $1 ORDER BY date`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []model.PricePoint
	for rows.Next() {
		var pt model.PricePoint
		var open, high, low, closeS string
		if err := rows.Scan(&pt.Date, &open, &high, &low, &closeS, &pt.Volume); err != nil {
			return nil, err
		}
		pt.Open, _ = decimal.NewFromString(open)
		pt.High, _ = decimal.NewFromString(high)
		pt.Low, _ = decimal.NewFromString(low)
		pt.Close, _ = decimal.NewFromString(closeS)
		series = append(series, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrNotFound
	}
	return series, nil
}

func (s *PostgresStore) ListHistorySymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT symbol FROM price_history ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
