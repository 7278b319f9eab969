package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPortfolio_Revalue(t *testing.T) {
	p := &Portfolio{
		InitialInvestment: d("1000"),
		Positions: []Position{
			{Symbol: "AAPLx", Address: "aapl", Amount: d("3"), AverageEntryPrice: d("200")},
			{Symbol: "SPYx", Address: "spy", Amount: d("1"), AverageEntryPrice: d("400")},
		},
	}

	p.Revalue(PriceMap{"aapl": d("220"), "spy": d("440")})

	assert.False(t, p.PartiallyPriced)
	assert.True(t, p.TotalValue.Equal(d("1100")))
	assert.True(t, p.CurrentPnlAbs.Equal(d("100")))
	assert.InDelta(t, 10.0, p.CurrentPnlPct, 1e-9)

	aapl, _ := p.Position("AAPLx")
	assert.InDelta(t, 60.0, aapl.CurrentPercentage, 1e-9)
	assert.InDelta(t, 10.0, aapl.UnrealizedPnlPct, 1e-9)
	assert.True(t, aapl.UnrealizedPnlAbs.Equal(d("60")))

	spy, _ := p.Position("SPYx")
	assert.InDelta(t, 40.0, spy.CurrentPercentage, 1e-9)
}

func TestPortfolio_Revalue_MissingPriceDoesNotDistortOthers(t *testing.T) {
	p := &Portfolio{
		InitialInvestment: d("1000"),
		Positions: []Position{
			{Symbol: "AAPLx", Address: "aapl", Amount: d("1"), AverageEntryPrice: d("100")},
			{Symbol: "SPYx", Address: "spy", Amount: d("1"), AverageEntryPrice: d("100")},
			{Symbol: "TSLAx", Address: "tsla", Amount: d("1"), AverageEntryPrice: d("100"), CurrentPercentage: 33},
		},
	}

	p.Revalue(PriceMap{"aapl": d("100"), "spy": d("100")})

	assert.True(t, p.PartiallyPriced)
	assert.True(t, p.TotalValue.Equal(d("200")))

	tsla, _ := p.Position("TSLAx")
	assert.False(t, tsla.Priced)
	assert.Zero(t, tsla.CurrentPercentage, "stale percentage must not survive a valuation pass")

	aapl, _ := p.Position("AAPLx")
	assert.True(t, aapl.Priced)
	assert.InDelta(t, 50.0, aapl.CurrentPercentage, 1e-9)
	assert.True(t, p.CurrentPnlAbs.IsZero())
}

func TestPortfolio_ApplyFill(t *testing.T) {
	p := &Portfolio{}

	require.NoError(t, p.ApplyFill("NVDAx", "nvda", d("2"), d("100")))
	require.Len(t, p.Positions, 1)
	assert.True(t, p.Positions[0].AverageEntryPrice.Equal(d("100")))

	require.NoError(t, p.ApplyFill("NVDAx", "nvda", d("2"), d("200")))
	pos, _ := p.Position("NVDAx")
	assert.True(t, pos.Amount.Equal(d("4")))
	assert.True(t, pos.AverageEntryPrice.Equal(d("150")))

	require.NoError(t, p.ApplyFill("NVDAx", "nvda", d("-1"), d("180")))
	pos, _ = p.Position("NVDAx")
	assert.True(t, pos.Amount.Equal(d("3")))
	assert.True(t, pos.AverageEntryPrice.Equal(d("150")), "sells keep the entry price")

	require.NoError(t, p.ApplyFill("NVDAx", "nvda", d("-3"), d("180")))
	assert.Empty(t, p.Positions, "position is removed when amount reaches zero")
}

func TestPortfolio_ApplyFill_Oversell(t *testing.T) {
	p := &Portfolio{}
	err := p.ApplyFill("NVDAx", "nvda", d("-1"), d("100"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	require.NoError(t, p.ApplyFill("NVDAx", "nvda", d("1"), d("100")))
	err = p.ApplyFill("NVDAx", "nvda", d("-2"), d("100"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestPortfolio_SetTargetsAndMarkRebalanced(t *testing.T) {
	p := &Portfolio{Positions: []Position{{Symbol: "A"}, {Symbol: "B"}}}
	p.SetTargets([]TargetAllocation{{Symbol: "A", Percentage: 70}})

	a, _ := p.Position("A")
	b, _ := p.Position("B")
	assert.Equal(t, 70.0, a.TargetPercentage)
	assert.Equal(t, 0.0, b.TargetPercentage)

	now := time.Unix(1700000000, 0)
	p.MarkRebalanced(now)
	p.MarkRebalanced(now)
	assert.Equal(t, 2, p.RebalanceCount)
	assert.Equal(t, now, p.LastRebalancedAt)
}

func TestValidRiskLevel(t *testing.T) {
	assert.False(t, ValidRiskLevel(0))
	assert.True(t, ValidRiskLevel(1))
	assert.True(t, ValidRiskLevel(10))
	assert.False(t, ValidRiskLevel(11))
}
