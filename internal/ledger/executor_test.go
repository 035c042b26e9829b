package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendify/trading-engine/internal/ledger"
	"github.com/trendify/trading-engine/internal/model"
	"github.com/trendify/trading-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newExecEnv(t *testing.T) (*ledger.Executor, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return ledger.NewExecutor(ms), ms
}

func seedAccount(t *testing.T, ms *store.MemoryStore, userID, balance string) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		UserID:    userID,
		Balance:   d(balance),
		Version:   1,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedQuote(t *testing.T, ms *store.MemoryStore, symbol, price string) {
	t.Helper()
	err := ms.SetLatestQuote(context.Background(), &model.Quote{
		Symbol:    symbol,
		Price:     d(price),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestExecuteBuy_FirstPurchase(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	res, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 10)
	require.NoError(t, err)

	assert.True(t, res.Account.Balance.Equal(d("8245.00")), "balance: %s", res.Account.Balance)

	pos := res.Portfolio.Positions["AAPL"]
	assert.Equal(t, int64(10), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(d("175.50")), "avg cost: %s", pos.AvgCost)

	require.NotNil(t, res.Transaction)
	assert.Equal(t, model.SideBuy, res.Transaction.Side)
	assert.True(t, res.Transaction.Total.Equal(d("1755.00")))
	assert.NotEmpty(t, res.Transaction.ID)
}

func TestExecuteBuy_WeightedAverageCost(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 10)
	require.NoError(t, err)

	seedQuote(t, ms, "AAPL", "180.00")
	res, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 5)
	require.NoError(t, err)

	// (10*175.50 + 5*180.00) / 15 = 177.00
	pos := res.Portfolio.Positions["AAPL"]
	assert.Equal(t, int64(15), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(d("177.00")), "avg cost: %s", pos.AvgCost)
	assert.True(t, res.Account.Balance.Equal(d("7345.00")), "balance: %s", res.Account.Balance)
}

func TestExecuteSell_FullPositionRemoved(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 10)
	require.NoError(t, err)
	seedQuote(t, ms, "AAPL", "180.00")
	_, err = exec.ExecuteBuy(context.Background(), "user1", "AAPL", 5)
	require.NoError(t, err)

	seedQuote(t, ms, "AAPL", "190.00")
	res, err := exec.ExecuteSell(context.Background(), "user1", "AAPL", 15)
	require.NoError(t, err)

	assert.True(t, res.Transaction.Total.Equal(d("2850.00")), "proceeds: %s", res.Transaction.Total)
	assert.True(t, res.Account.Balance.Equal(d("10195.00")), "balance: %s", res.Account.Balance)

	_, held := res.Portfolio.Positions["AAPL"]
	assert.False(t, held, "fully sold position must be removed")
}

func TestExecuteSell_PartialKeepsAvgCost(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 10)
	require.NoError(t, err)

	seedQuote(t, ms, "AAPL", "200.00")
	res, err := exec.ExecuteSell(context.Background(), "user1", "AAPL", 4)
	require.NoError(t, err)

	pos := res.Portfolio.Positions["AAPL"]
	assert.Equal(t, int64(6), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(d("175.50")), "selling must not alter avg cost, got %s", pos.AvgCost)
}

func TestExecuteSell_NoPosition(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteSell(context.Background(), "user1", "AAPL", 5)
	assert.ErrorIs(t, err, ledger.ErrPositionNotFound)

	// Nothing mutated.
	acct, err := ms.GetAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("10000.00")))
	txns, _ := ms.ListTransactions(context.Background(), "user1")
	assert.Empty(t, txns)
}

func TestExecuteSell_InsufficientShares(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "100.00")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 3)
	require.NoError(t, err)

	_, err = exec.ExecuteSell(context.Background(), "user1", "AAPL", 4)
	assert.ErrorIs(t, err, ledger.ErrInsufficientShares)
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "100.00")
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	acct, err := ms.GetAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("100.00")), "failed buy must not touch balance")
}

func TestExecuteBuy_Validation(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "175.50")

	tests := []struct {
		name   string
		userID string
		symbol string
		shares int64
	}{
		{"zero shares", "user1", "AAPL", 0},
		{"negative shares", "user1", "AAPL", -5},
		{"empty user", "", "AAPL", 1},
		{"malformed symbol", "user1", "aapl!!", 1},
		{"empty symbol", "user1", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.ExecuteBuy(context.Background(), tt.userID, tt.symbol, tt.shares)
			assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		})
	}
}

func TestExecuteBuy_PriceUnavailable(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "NOPE", 1)
	assert.ErrorIs(t, err, ledger.ErrPriceUnavailable)
}

func TestExecuteBuy_AccountNotFound(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedQuote(t, ms, "AAPL", "175.50")

	_, err := exec.ExecuteBuy(context.Background(), "ghost", "AAPL", 1)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestDeposit(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "100.00")

	acct, err := exec.Deposit(context.Background(), "user1", d("250.50"))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("350.50")), "balance: %s", acct.Balance)

	_, err = exec.Deposit(context.Background(), "user1", d("-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = exec.Deposit(context.Background(), "ghost", d("10"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	exec, _ := newExecEnv(t)

	_, err := exec.CreateAccount(context.Background(), "user1", d("10000"))
	require.NoError(t, err)

	_, err = exec.CreateAccount(context.Background(), "user1", d("10000"))
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestConservation(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "10000.00")
	seedQuote(t, ms, "AAPL", "125.00")

	ctx := context.Background()
	_, err := exec.ExecuteBuy(ctx, "user1", "AAPL", 20)
	require.NoError(t, err)
	_, err = exec.ExecuteSell(ctx, "user1", "AAPL", 7)
	require.NoError(t, err)
	res, err := exec.ExecuteBuy(ctx, "user1", "AAPL", 3)
	require.NoError(t, err)

	// Constant price: cash + holdings at market must equal the start.
	holdings := d("125.00").Mul(decimal.NewFromInt(res.Portfolio.Positions["AAPL"].Shares))
	total := res.Account.Balance.Add(holdings)
	assert.True(t, total.Equal(d("10000.00")), "value conserved, got %s", total)

	txns, err := ms.ListTransactions(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, txns, 3)
}

func TestConcurrentBuys_OnlyOneCanSpendTheBalance(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedAccount(t, ms, "user1", "1000.00")
	seedQuote(t, ms, "AAPL", "100.00")

	// Each buy needs the full balance; only one can commit.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = exec.ExecuteBuy(context.Background(), "user1", "AAPL", 10)
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrCommitConflict):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one buy must commit")
	assert.Equal(t, 1, rejected, "the other must be rejected")

	acct, err := ms.GetAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.False(t, acct.Balance.IsNegative(), "balance must never go negative")
	assert.True(t, acct.Balance.Equal(d("0.00")), "balance: %s", acct.Balance)
}

func TestConcurrentTrades_DifferentUsersDoNotInterfere(t *testing.T) {
	exec, ms := newExecEnv(t)
	seedQuote(t, ms, "AAPL", "10.00")
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		seedAccount(t, ms, u, "1000.00")
	}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				_, err := exec.ExecuteBuy(context.Background(), u, "AAPL", 2)
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	for _, u := range users {
		acct, err := ms.GetAccount(context.Background(), u)
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(d("800.00")), "user %s balance: %s", u, acct.Balance)

		pf, err := ms.GetPortfolio(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, int64(10), pf.Positions["AAPL"].Shares)
	}
}

// conflictStore forces CommitTrade to fail with ErrConflict a fixed number
// of times before delegating, simulating an out-of-band writer.
type conflictStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) CommitTrade(ctx context.Context, acct *model.Account, pf *model.Portfolio, txn *model.Transaction) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return store.ErrConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.CommitTrade(ctx, acct, pf, txn)
}

func TestExecuteBuy_RetriesOnConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	cs := &conflictStore{MemoryStore: ms, conflicts: 2}
	exec := ledger.NewExecutor(cs)

	seedAccount(t, ms, "user1", "1000.00")
	seedQuote(t, ms, "AAPL", "100.00")

	res, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 1)
	require.NoError(t, err, "two conflicts fit inside the retry limit")
	assert.True(t, res.Account.Balance.Equal(d("900.00")))
}

func TestExecuteBuy_ConflictRetriesExhausted(t *testing.T) {
	ms := store.NewMemoryStore()
	cs := &conflictStore{MemoryStore: ms, conflicts: 10}
	exec := ledger.NewExecutor(cs)

	seedAccount(t, ms, "user1", "1000.00")
	seedQuote(t, ms, "AAPL", "100.00")

	_, err := exec.ExecuteBuy(context.Background(), "user1", "AAPL", 1)
	assert.ErrorIs(t, err, ledger.ErrCommitConflict)

	acct, err := ms.GetAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("1000.00")), "failed trade must leave no partial state")
}
