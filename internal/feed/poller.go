package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/metrics"
	"github.com/trendify/trading-engine/internal/model"
	"github.com/trendify/trading-engine/internal/store"
)

// Fetcher is the market-data source the poller pulls from. *Client
// implements it; tests substitute a stub.
type Fetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]model.Quote, error)
	FetchDailyHistory(ctx context.Context, symbol string) ([]model.PricePoint, error)
}

// Broadcaster receives fresh quotes for fan-out to connected clients.
// The ledger's WebSocket hub implements it.
type Broadcaster interface {
	BroadcastQuote(symbol string, price decimal.Decimal)
}

// Poller periodically refreshes the latest quote for a fixed symbol list.
// A failed cycle is logged and retried on the next tick; it never writes a
// partial or stale price.
type Poller struct {
	client   Fetcher
	store    store.Store
	hub      Broadcaster // optional, nil disables broadcasts
	symbols  []string
	interval time.Duration
}

// NewPoller creates a quote poller. Pass nil for hub if broadcasting is not
// needed.
func NewPoller(client Fetcher, st store.Store, hub Broadcaster, symbols []string, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		store:    st,
		hub:      hub,
		symbols:  symbols,
		interval: interval,
	}
}

// Backfill loads each symbol's full daily history into the store. Run once
// at startup; per-symbol failures are logged and skipped so one bad symbol
// cannot block the rest.
func (p *Poller) Backfill(ctx context.Context) error {
	for _, sym := range p.symbols {
		series, err := p.client.FetchDailyHistory(ctx, sym)
		if err != nil {
			slog.Warn("history backfill failed", "symbol", sym, "err", err)
			continue
		}
		if len(series) == 0 {
			continue
		}
		if err := p.store.SetPriceHistory(ctx, sym, series); err != nil {
			return err
		}
		slog.Info("history backfilled", "symbol", sym, "points", len(series))
	}
	return nil
}

// Run polls until ctx is cancelled. An immediate first refresh runs before
// the ticker starts so the store has prices as soon as the service is up.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("price feed stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	quotes, err := p.client.FetchQuotes(ctx, p.symbols)
	if err != nil {
		slog.Warn("quote refresh failed", "err", err)
		return
	}

	for i := range quotes {
		q := quotes[i]
		if err := p.store.SetLatestQuote(ctx, &q); err != nil {
			slog.Warn("quote store failed", "symbol", q.Symbol, "err", err)
			continue
		}
		metrics.QuoteUpdates.Inc()
		if p.hub != nil {
			p.hub.BroadcastQuote(q.Symbol, q.Price)
		}
	}

	slog.Debug("quotes refreshed", "count", len(quotes))
}
