package valuation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendify/trading-engine/internal/model"
	"github.com/trendify/trading-engine/internal/valuation"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func portfolioWith(positions ...model.Position) *model.Portfolio {
	pf := model.NewPortfolio("user1")
	for _, p := range positions {
		pf.Positions[p.Symbol] = p
	}
	return pf
}

func TestValuePosition(t *testing.T) {
	pos := model.Position{Symbol: "AAPL", Shares: 10, AvgCost: d("175.50")}

	vp := valuation.ValuePosition(pos, d("190"))

	assert.True(t, vp.CurrentValue.Equal(d("1900")), "current value: %s", vp.CurrentValue)
	assert.True(t, vp.Investment.Equal(d("1755")), "investment: %s", vp.Investment)
	assert.True(t, vp.ProfitLoss.Equal(d("145")), "profit/loss: %s", vp.ProfitLoss)

	// 145 / 1755 * 100
	wantPct := d("145").Div(d("1755")).Mul(d("100"))
	assert.True(t, vp.ProfitLossPercent.Equal(wantPct), "percent: %s", vp.ProfitLossPercent)
}

func TestValuePosition_LossWhenPriceDrops(t *testing.T) {
	pos := model.Position{Symbol: "TSLA", Shares: 4, AvgCost: d("250")}

	vp := valuation.ValuePosition(pos, d("200"))

	assert.True(t, vp.ProfitLoss.Equal(d("-200")), "profit/loss: %s", vp.ProfitLoss)
	assert.True(t, vp.ProfitLossPercent.Equal(d("-20")), "percent: %s", vp.ProfitLossPercent)
}

func TestValuePortfolio_Totals(t *testing.T) {
	pf := portfolioWith(
		model.Position{Symbol: "AAPL", Shares: 10, AvgCost: d("175.50")},
		model.Position{Symbol: "MSFT", Shares: 5, AvgCost: d("300")},
	)
	prices := map[string]decimal.Decimal{
		"AAPL": d("190"),
		"MSFT": d("280"),
	}

	v := valuation.ValuePortfolio(pf, prices)

	require.Len(t, v.Positions, 2)
	// Sorted by symbol.
	assert.Equal(t, "AAPL", v.Positions[0].Symbol)
	assert.Equal(t, "MSFT", v.Positions[1].Symbol)

	// AAPL: 1900 value, 1755 invested. MSFT: 1400 value, 1500 invested.
	assert.True(t, v.TotalValue.Equal(d("3300")), "total value: %s", v.TotalValue)
	assert.True(t, v.TotalInvestment.Equal(d("3255")), "total investment: %s", v.TotalInvestment)
	assert.True(t, v.TotalProfitLoss.Equal(d("45")), "total p/l: %s", v.TotalProfitLoss)

	wantPct := d("45").Div(d("3255")).Mul(d("100"))
	assert.True(t, v.TotalProfitLossPercent.Equal(wantPct), "total percent: %s", v.TotalProfitLossPercent)
}

func TestValuePortfolio_Empty(t *testing.T) {
	v := valuation.ValuePortfolio(model.NewPortfolio("user1"), nil)

	assert.Empty(t, v.Positions)
	assert.True(t, v.TotalValue.IsZero())
	assert.True(t, v.TotalProfitLoss.IsZero())
	assert.True(t, v.TotalProfitLossPercent.IsZero(), "empty portfolio percent must be zero")
}

func TestValuePortfolio_MissingPriceValuesAtZero(t *testing.T) {
	pf := portfolioWith(model.Position{Symbol: "GOOG", Shares: 3, AvgCost: d("100")})

	v := valuation.ValuePortfolio(pf, map[string]decimal.Decimal{})

	require.Len(t, v.Positions, 1)
	assert.True(t, v.Positions[0].CurrentValue.IsZero())
	assert.True(t, v.Positions[0].ProfitLoss.Equal(d("-300")), "loss must equal full investment")
	assert.True(t, v.TotalValue.IsZero())
}

func TestValuePortfolio_PureAndIdempotent(t *testing.T) {
	pf := portfolioWith(model.Position{Symbol: "AAPL", Shares: 10, AvgCost: d("175.50")})
	prices := map[string]decimal.Decimal{"AAPL": d("190")}

	first := valuation.ValuePortfolio(pf, prices)
	second := valuation.ValuePortfolio(pf, prices)

	assert.Equal(t, first, second, "same inputs must yield identical output")

	// Arguments must be untouched.
	require.Len(t, pf.Positions, 1)
	pos := pf.Positions["AAPL"]
	assert.Equal(t, int64(10), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(d("175.50")))
	assert.True(t, prices["AAPL"].Equal(d("190")))
}
