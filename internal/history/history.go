// Package history filters per-symbol OHLCV series by date range and derives
// gain/loss summaries. Pure functions over already-loaded series; no I/O.
//
// Dates are fixed-width ISO-8601 strings (YYYY-MM-DD), so lexicographic
// comparison is chronological comparison.
package history

import (
	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Filter returns the subsequence of series whose dates fall within
// [from, to], bounds inclusive. An empty bound is unbounded on that side.
// series must already be in ascending date order; the result preserves it.
func Filter(series []model.PricePoint, from, to string) []model.PricePoint {
	var out []model.PricePoint
	for _, pt := range series {
		if from != "" && pt.Date < from {
			continue
		}
		if to != "" && pt.Date > to {
			// Ascending input: nothing later can be in range.
			break
		}
		out = append(out, pt)
	}
	return out
}

// GainLoss summarizes price movement across the filtered range: first close
// vs. last close, always within the requested range. When latest is non-nil
// it replaces the last close, giving an "as of now" summary against the
// range's first close.
//
// Returns false when the filtered range is empty — the caller must treat
// that as insufficient data, not as a zero change.
func GainLoss(symbol string, series []model.PricePoint, from, to string, latest *decimal.Decimal) (model.GainLoss, bool) {
	filtered := Filter(series, from, to)
	if len(filtered) == 0 {
		return model.GainLoss{}, false
	}

	firstClose := filtered[0].Close
	lastClose := filtered[len(filtered)-1].Close
	if latest != nil {
		lastClose = *latest
	}

	change := lastClose.Sub(firstClose)

	percent := decimal.Zero
	if !firstClose.IsZero() {
		percent = change.Div(firstClose).Mul(hundred)
	}

	return model.GainLoss{
		Symbol:        symbol,
		From:          filtered[0].Date,
		To:            filtered[len(filtered)-1].Date,
		FirstClose:    firstClose,
		LastClose:     lastClose,
		Change:        change,
		PercentChange: percent,
		Direction:     direction(change),
	}, true
}

func direction(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return model.DirectionGain
	case -1:
		return model.DirectionLoss
	default:
		return model.DirectionNoChange
	}
}
