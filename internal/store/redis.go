package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendify/trading-engine/internal/model"
)

// redisCache is the slice of the redis client the cache needs. Tests
// substitute an in-memory fake.
type redisCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market data. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Accounts and portfolios are never cached: they are the version-covered
// pair the executor re-reads before each commit. A cached portfolio can be
// re-populated from a pre-commit read after another instance's
// invalidation, and a commit built on that stale copy passes the account
// version check while dropping the other instance's position changes.
type CachedStore struct {
	primary Store
	rdb     redisCache
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) CommitTrade(ctx context.Context, a *model.Account, pf *model.Portfolio, txn *model.Transaction) error {
	return s.primary.CommitTrade(ctx, a, pf, txn)
}

func (s *CachedStore) SetLatestQuote(ctx context.Context, q *model.Quote) error {
	if err := s.primary.SetLatestQuote(ctx, q); err != nil {
		return err
	}
	s.cacheQuote(ctx, q)
	return nil
}

func (s *CachedStore) SetPriceHistory(ctx context.Context, symbol string, series []model.PricePoint) error {
	if err := s.primary.SetPriceHistory(ctx, symbol, series); err != nil {
		return err
	}
	s.rdb.Del(ctx, historyKey(symbol))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	data, err := s.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := s.primary.GetLatestQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheQuote(ctx, q)
	return q, nil
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	data, err := s.rdb.Get(ctx, historyKey(symbol)).Bytes()
	if err == nil {
		var series []model.PricePoint
		if json.Unmarshal(data, &series) == nil {
			return series, nil
		}
	}

	series, err := s.primary.GetPriceHistory(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(series); err == nil {
		s.rdb.Set(ctx, historyKey(symbol), data, s.ttl)
	}
	return series, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID)
}

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	return s.primary.GetPortfolio(ctx, userID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID)
}

func (s *CachedStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	return s.primary.ListQuotes(ctx)
}

func (s *CachedStore) ListHistorySymbols(ctx context.Context) ([]string, error) {
	return s.primary.ListHistorySymbols(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheQuote(ctx context.Context, q *model.Quote) {
	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, quoteKey(q.Symbol), data, s.ttl)
	}
}

func quoteKey(symbol string) string   { return fmt.Sprintf("quote:%s", symbol) }
func historyKey(symbol string) string { return fmt.Sprintf("history:%s", symbol) }
