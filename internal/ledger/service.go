package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/history"
	"github.com/trendify/trading-engine/internal/model"
	"github.com/trendify/trading-engine/internal/store"
	"github.com/trendify/trading-engine/internal/valuation"
)

// dateRe validates the fixed-width YYYY-MM-DD range parameters.
var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Service exposes the trading ledger over HTTP. Trades go through the
// Executor; read paths (valuation, history) hit the store directly and
// never take the per-user lock.
type Service struct {
	exec           *Executor
	store          store.Store
	hub            *Hub // optional, nil disables broadcasts
	initialBalance decimal.Decimal
}

// NewService creates the HTTP service. initialBalance is the starting cash
// for accounts created without an explicit balance. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(exec *Executor, st store.Store, hub *Hub, initialBalance decimal.Decimal) *Service {
	return &Service{
		exec:           exec,
		store:          st,
		hub:            hub,
		initialBalance: initialBalance,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /buy and POST /sell.
type TradeRequest struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

// TradeResponse is the JSON body returned from a committed trade.
// Money fields are rounded to two places here, at the presentation
// boundary only.
type TradeResponse struct {
	Balance     decimal.Decimal `json:"balance"`
	Portfolio   []PositionView  `json:"portfolio"`
	Transaction TransactionView `json:"transaction"`
}

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID  string           `json:"user_id"`
	Balance *decimal.Decimal `json:"balance,omitempty"` // nil → configured default
}

// DepositRequest is the JSON body for POST /accounts/{userID}/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AccountView is the presentation shape of an account.
type AccountView struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// PositionView is the presentation shape of a (possibly valued) position.
type PositionView struct {
	Symbol            string          `json:"symbol"`
	Shares            int64           `json:"shares"`
	AvgCost           decimal.Decimal `json:"avg_cost"`
	CurrentPrice      decimal.Decimal `json:"current_price,omitempty"`
	CurrentValue      decimal.Decimal `json:"current_value,omitempty"`
	ProfitLoss        decimal.Decimal `json:"profit_loss,omitempty"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent,omitempty"`
}

// TransactionView is the presentation shape of a transaction.
type TransactionView struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Timestamp string          `json:"timestamp"`
}

// PortfolioResponse is the valuation view returned from GET /portfolio.
type PortfolioResponse struct {
	UserID                 string          `json:"user_id"`
	Balance                decimal.Decimal `json:"balance"`
	Positions              []PositionView  `json:"positions"`
	TotalValue             decimal.Decimal `json:"total_value"`
	TotalProfitLoss        decimal.Decimal `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal `json:"total_profit_loss_percent"`
}

// --- Trade handlers ---

// Buy handles POST /api/v1/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.exec.ExecuteBuy)
}

// Sell handles POST /api/v1/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.exec.ExecuteSell)
}

func (s *Service) trade(w http.ResponseWriter, r *http.Request, execute func(ctx context.Context, userID, symbol string, shares int64) (*TradeResult, error)) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := execute(r.Context(), req.UserID, req.Symbol, req.Shares)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.hub != nil {
		s.hub.BroadcastTrade(result.Transaction)
	}

	writeJSON(w, http.StatusOK, TradeResponse{
		Balance:     result.Account.Balance.Round(2),
		Portfolio:   positionViews(result.Portfolio),
		Transaction: viewTransaction(result.Transaction),
	})
}

// CreateAccount handles POST /api/v1/accounts.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	balance := s.initialBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	acct, err := s.exec.CreateAccount(r.Context(), req.UserID, balance)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, AccountView{
		UserID:  acct.UserID,
		Balance: acct.Balance.Round(2),
	})
}

// Deposit handles POST /api/v1/accounts/{userID}/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.exec.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, AccountView{
		UserID:  acct.UserID,
		Balance: acct.Balance.Round(2),
	})
}

// --- Read handlers ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
// Derived figures are recomputed from live quotes on every read; nothing
// price-dependent is ever persisted.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	pf, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	prices, err := s.latestPrices(ctx)
	if err != nil {
		writeError(w, "failed to load quotes", http.StatusInternalServerError)
		return
	}

	v := valuation.ValuePortfolio(pf, prices)

	resp := PortfolioResponse{
		UserID:                 userID,
		Balance:                acct.Balance.Round(2),
		Positions:              make([]PositionView, 0, len(v.Positions)),
		TotalValue:             v.TotalValue.Round(2),
		TotalProfitLoss:        v.TotalProfitLoss.Round(2),
		TotalProfitLossPercent: v.TotalProfitLossPercent.Round(2),
	}
	for _, vp := range v.Positions {
		resp.Positions = append(resp.Positions, PositionView{
			Symbol:            vp.Symbol,
			Shares:            vp.Shares,
			AvgCost:           vp.AvgCost.Round(2),
			CurrentPrice:      vp.CurrentPrice.Round(2),
			CurrentValue:      vp.CurrentValue.Round(2),
			ProfitLoss:        vp.ProfitLoss.Round(2),
			ProfitLossPercent: vp.ProfitLossPercent.Round(2),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTransactions handles GET /api/v1/transactions/{userID}.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.ListTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}

	views := make([]TransactionView, 0, len(txns))
	for i := range txns {
		views = append(views, viewTransaction(&txns[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// ListStocks handles GET /api/v1/stocks — every known symbol with its
// latest quote.
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.store.ListQuotes(r.Context())
	if err != nil {
		writeError(w, "failed to load quotes", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []model.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetLatest handles GET /api/v1/stocks/{symbol}/latest.
func (s *Service) GetLatest(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	quote, err := s.store.GetLatestQuote(r.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no quote for "+symbol, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load quote", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetAllLatest handles GET /api/v1/stocks/latest — all latest quotes plus
// an "as of now" gain/loss per symbol: the latest quote measured against the
// first close in that symbol's stored history.
func (s *Service) GetAllLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	quotes, err := s.store.ListQuotes(ctx)
	if err != nil {
		writeError(w, "failed to load quotes", http.StatusInternalServerError)
		return
	}

	gainLoss := make(map[string]model.GainLoss)
	for _, q := range quotes {
		series, err := s.store.GetPriceHistory(ctx, q.Symbol)
		if err != nil {
			continue // no history → no summary for this symbol
		}
		latest := q.Price
		if gl, ok := history.GainLoss(q.Symbol, series, "", "", &latest); ok {
			gainLoss[q.Symbol] = roundGainLoss(gl)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"latest_prices": quotes,
		"gain_loss":     gainLoss,
	})
}

// GetHistory handles GET /api/v1/stocks/{symbol}/history?from=...&to=...
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}

	series, err := s.store.GetPriceHistory(r.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "history not found for "+symbol, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	filtered := history.Filter(series, from, to)
	if filtered == nil {
		filtered = []model.PricePoint{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"history": filtered,
	})
}

// GetAllHistory handles GET /api/v1/stocks/history?from=...&to=... — every
// symbol's filtered series plus its gain/loss over the requested range
// (first close vs. last close within the range).
func (s *Service) GetAllHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}

	symbols, err := s.store.ListHistorySymbols(ctx)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	historyData := make(map[string][]model.PricePoint)
	gainLoss := make(map[string]model.GainLoss)

	for _, sym := range symbols {
		series, err := s.store.GetPriceHistory(ctx, sym)
		if err != nil {
			continue
		}
		filtered := history.Filter(series, from, to)
		if filtered == nil {
			filtered = []model.PricePoint{}
		}
		historyData[sym] = filtered

		if gl, ok := history.GainLoss(sym, series, from, to, nil); ok {
			gainLoss[sym] = roundGainLoss(gl)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history":   historyData,
		"gain_loss": gainLoss,
	})
}

// --- Helpers ---

// latestPrices returns a symbol→price map for valuation.
func (s *Service) latestPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	quotes, err := s.store.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		prices[q.Symbol] = q.Price
	}
	return prices, nil
}

func rangeParams(w http.ResponseWriter, r *http.Request) (from, to string, ok bool) {
	from = r.URL.Query().Get("from")
	to = r.URL.Query().Get("to")
	if (from != "" && !dateRe.MatchString(from)) || (to != "" && !dateRe.MatchString(to)) {
		writeError(w, "dates must be YYYY-MM-DD", http.StatusBadRequest)
		return "", "", false
	}
	return from, to, true
}

func positionViews(pf *model.Portfolio) []PositionView {
	views := make([]PositionView, 0, len(pf.Positions))
	for _, sym := range sortedSymbols(pf) {
		pos := pf.Positions[sym]
		views = append(views, PositionView{
			Symbol:  pos.Symbol,
			Shares:  pos.Shares,
			AvgCost: pos.AvgCost.Round(2),
		})
	}
	return views
}

func sortedSymbols(pf *model.Portfolio) []string {
	symbols := make([]string, 0, len(pf.Positions))
	for sym := range pf.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

func viewTransaction(t *model.Transaction) TransactionView {
	return TransactionView{
		ID:        t.ID,
		Symbol:    t.Symbol,
		Side:      t.Side,
		Shares:    t.Shares,
		Price:     t.Price.Round(2),
		Total:     t.Total.Round(2),
		Timestamp: t.Timestamp.Format(time.RFC3339),
	}
}

func roundGainLoss(gl model.GainLoss) model.GainLoss {
	gl.FirstClose = gl.FirstClose.Round(2)
	gl.LastClose = gl.LastClose.Round(2)
	gl.Change = gl.Change.Round(2)
	gl.PercentChange = gl.PercentChange.Round(2)
	return gl
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPriceUnavailable),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrCommitConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
