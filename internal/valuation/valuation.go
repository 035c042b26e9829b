// Package valuation derives point-in-time portfolio metrics from stored cost
// basis and live prices. Everything here is a pure function: no I/O, no
// mutation of arguments, safe for concurrent use.
//
// Money stays at full decimal precision; rounding to two places happens only
// when shaping HTTP responses, never here.
package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/trendify/trading-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ValuedPosition is a position enriched with price-derived figures.
type ValuedPosition struct {
	model.Position
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	Investment        decimal.Decimal `json:"investment"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// PortfolioValuation is the full derived view of one portfolio.
type PortfolioValuation struct {
	UserID                 string           `json:"user_id"`
	Positions              []ValuedPosition `json:"positions"`
	TotalValue             decimal.Decimal  `json:"total_value"`
	TotalInvestment        decimal.Decimal  `json:"total_investment"`
	TotalProfitLoss        decimal.Decimal  `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal  `json:"total_profit_loss_percent"`
}

// ValuePortfolio computes current value and profit/loss for every position
// and the portfolio totals. prices maps symbol to current price; a position
// whose symbol has no entry is valued at zero (its loss is the full
// investment) rather than dropped, so totals stay honest.
//
// Positions are returned in symbol order for stable output.
func ValuePortfolio(pf *model.Portfolio, prices map[string]decimal.Decimal) PortfolioValuation {
	v := PortfolioValuation{
		UserID:    pf.UserID,
		Positions: make([]ValuedPosition, 0, len(pf.Positions)),
	}

	symbols := make([]string, 0, len(pf.Positions))
	for sym := range pf.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		pos := pf.Positions[sym]
		vp := ValuePosition(pos, prices[sym])

		v.Positions = append(v.Positions, vp)
		v.TotalValue = v.TotalValue.Add(vp.CurrentValue)
		v.TotalInvestment = v.TotalInvestment.Add(vp.Investment)
		v.TotalProfitLoss = v.TotalProfitLoss.Add(vp.ProfitLoss)
	}

	v.TotalProfitLossPercent = percentOf(v.TotalProfitLoss, v.TotalInvestment)
	return v
}

// ValuePosition derives the current value and profit/loss of one position at
// the given price.
func ValuePosition(pos model.Position, price decimal.Decimal) ValuedPosition {
	shares := decimal.NewFromInt(pos.Shares)
	currentValue := price.Mul(shares)
	investment := pos.AvgCost.Mul(shares)
	profitLoss := currentValue.Sub(investment)

	return ValuedPosition{
		Position:          pos,
		CurrentPrice:      price,
		CurrentValue:      currentValue,
		Investment:        investment,
		ProfitLoss:        profitLoss,
		ProfitLossPercent: percentOf(profitLoss, investment),
	}
}

// percentOf returns part/whole*100, or zero when whole is zero. A well-formed
// position always has a positive investment (shares > 0, avgCost > 0), but
// the zero case is guarded rather than trusted.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
