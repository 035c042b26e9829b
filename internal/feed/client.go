// Package feed supplies market data: an HTTP client for the external quote
// API and a poller that keeps the store's latest prices current. The engine
// itself only ever reads prices; this package is the sole writer.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/model"
)

// Client fetches quotes and daily candles from the external market-data API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a market-data client. The timeout bounds every request;
// a timed-out fetch surfaces as an error, never a partial update.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type quotesResponse struct {
	Quotes []struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	} `json:"quotes"`
}

type historyResponse struct {
	Symbol  string `json:"symbol"`
	Candles []struct {
		Date   string          `json:"date"`
		Open   decimal.Decimal `json:"open"`
		High   decimal.Decimal `json:"high"`
		Low    decimal.Decimal `json:"low"`
		Close  decimal.Decimal `json:"close"`
		Volume int64           `json:"volume"`
	} `json:"candles"`
}

// FetchQuotes returns the current price for each requested symbol. Symbols
// the provider does not know are absent from the result, not an error.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	var resp quotesResponse
	if err := c.getJSON(ctx, "/v2/quotes?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]model.Quote, 0, len(resp.Quotes))
	for _, r := range resp.Quotes {
		if r.Symbol == "" || !r.Price.IsPositive() {
			continue
		}
		quotes = append(quotes, model.Quote{
			Symbol:    r.Symbol,
			Price:     r.Price,
			UpdatedAt: now,
		})
	}
	return quotes, nil
}

// FetchDailyHistory returns a symbol's daily OHLCV series in ascending
// date order.
func (c *Client) FetchDailyHistory(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	var resp historyResponse
	if err := c.getJSON(ctx, "/v2/history/"+url.PathEscape(symbol), &resp); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", symbol, err)
	}

	series := make([]model.PricePoint, 0, len(resp.Candles))
	for _, cd := range resp.Candles {
		series = append(series, model.PricePoint{
			Date: cd.Date,
			OHLCV: model.OHLCV{
				Open:   cd.Open,
				High:   cd.High,
				Low:    cd.Low,
				Close:  cd.Close,
				Volume: cd.Volume,
			},
		})
	}
	return series, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
