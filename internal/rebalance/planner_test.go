package rebalance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstock-portfolio/internal/assets"
	"xstock-portfolio/internal/domain"
)

func valuedPortfolio(t *testing.T, reg *assets.Registry, holdings map[string][2]string) *domain.Portfolio {
	t.Helper()
	p := &domain.Portfolio{ID: "p-1"}
	prices := domain.PriceMap{}
	for symbol, h := range holdings {
		a, ok := reg.BySymbol(symbol)
		require.True(t, ok, symbol)
		amount := decimal.RequireFromString(h[0])
		price := decimal.RequireFromString(h[1])
		require.NoError(t, p.ApplyFill(symbol, a.Address, amount, price))
		prices[a.Address] = price
	}
	p.Revalue(prices)
	return p
}

func TestPlanner_SellsBeforeBuys(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)

	p := valuedPortfolio(t, reg, map[string][2]string{
		"AAPLx": {"1", "300"},
		"MSFTx": {"0.25", "400"},
	})
	targets := []domain.TargetAllocation{
		{Symbol: "AAPLx", Percentage: 50},
		{Symbol: "MSFTx", Percentage: 30},
		{Symbol: "NVDAx", Percentage: 20},
	}

	orders, err := Planner{Assets: reg}.Plan(p, targets)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	assert.Equal(t, domain.TransactionSell, orders[0].Kind)
	assert.Equal(t, "AAPLx", orders[0].Asset.Symbol)
	assert.Equal(t, "0.33333333", orders[0].Amount.String())

	assert.Equal(t, domain.TransactionBuy, orders[1].Kind)
	assert.Equal(t, "MSFTx", orders[1].Asset.Symbol)
	assert.Equal(t, "20", orders[1].Amount.String())

	assert.Equal(t, domain.TransactionBuy, orders[2].Kind)
	assert.Equal(t, "NVDAx", orders[2].Asset.Symbol)
	assert.Equal(t, "80", orders[2].Amount.String())
}

func TestPlanner_SkipsDust(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)

	p := valuedPortfolio(t, reg, map[string][2]string{
		"AAPLx": {"1", "100.5"},
		"MSFTx": {"1", "99.5"},
	})
	targets := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 50}, {Symbol: "MSFTx", Percentage: 50}}

	orders, err := Planner{Assets: reg, Dust: decimal.NewFromInt(1)}.Plan(p, targets)
	require.NoError(t, err)
	assert.Empty(t, orders, "0.5 of drift per side is below the dust threshold")
}

func TestPlanner_SellsUntargetedPositionsEntirely(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)

	p := valuedPortfolio(t, reg, map[string][2]string{
		"AAPLx": {"1", "100"},
		"TSLAx": {"0.12345678", "300"},
	})
	targets := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100}}

	orders, err := Planner{Assets: reg}.Plan(p, targets)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.TransactionSell, orders[0].Kind)
	assert.Equal(t, "TSLAx", orders[0].Asset.Symbol)
	assert.Equal(t, "0.12345678", orders[0].Amount.String())
	assert.Equal(t, domain.TransactionBuy, orders[1].Kind)
}

func TestPlanner_RejectsPartiallyPriced(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)

	p := valuedPortfolio(t, reg, map[string][2]string{"AAPLx": {"1", "100"}})
	p.Revalue(domain.PriceMap{})

	_, err = Planner{Assets: reg}.Plan(p, nil)
	assert.ErrorIs(t, err, domain.ErrPricingUnavailable)
}
