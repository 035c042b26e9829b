package store

import (
	"context"
	"sort"
	"sync"

	"github.com/trendify/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	portfolios   map[string]*model.Portfolio
	transactions []model.Transaction
	quotes       map[string]*model.Quote
	history      map[string][]model.PricePoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*model.Account),
		portfolios: make(map[string]*model.Portfolio),
		quotes:     make(map[string]*model.Quote),
		history:    make(map[string][]model.PricePoint),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; ok {
		return ErrExists
	}

	// Store a copy to avoid external mutation.
	cp := *acct
	s.accounts[acct.UserID] = &cp
	s.portfolios[acct.UserID] = model.NewPortfolio(acct.UserID)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pf, ok := s.portfolios[userID]
	if !ok {
		if _, hasAcct := s.accounts[userID]; !hasAcct {
			return nil, ErrNotFound
		}
		return model.NewPortfolio(userID), nil
	}
	return pf.Clone(), nil
}

// CommitTrade applies the account/portfolio/transaction mutation as one unit
// under a single lock, rejecting stale versions.
func (s *MemoryStore) CommitTrade(_ context.Context, acct *model.Account, pf *model.Portfolio, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[acct.UserID]
	if !ok {
		return ErrNotFound
	}
	if acct.Version != cur.Version+1 {
		return ErrConflict
	}

	cpAcct := *acct
	s.accounts[acct.UserID] = &cpAcct
	if pf != nil {
		s.portfolios[acct.UserID] = pf.Clone()
	}
	if txn != nil {
		s.transactions = append(s.transactions, *txn)
	}
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) SetLatestQuote(_ context.Context, q *model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *q
	s.quotes[q.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetLatestQuote(_ context.Context, symbol string) (*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) ListQuotes(_ context.Context) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]model.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		quotes = append(quotes, *q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}

func (s *MemoryStore) SetPriceHistory(_ context.Context, symbol string, series []model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]model.PricePoint, len(series))
	copy(cp, series)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Date < cp[j].Date })
	s.history[symbol] = cp
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, symbol string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.history[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]model.PricePoint, len(series))
	copy(cp, series)
	return cp, nil
}

func (s *MemoryStore) ListHistorySymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.history))
	for sym := range s.history {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
