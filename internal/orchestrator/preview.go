package orchestrator

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
)

// PreviewLine is the estimated fill of one allocation entry at current prices.
type PreviewLine struct {
	Symbol          string
	Percentage      float64
	Notional        decimal.Decimal
	Price           decimal.Decimal // zero when unpriced
	EstimatedAmount decimal.Decimal // notional / price, zero when unpriced
	Priced          bool
	Reason          string // why the line is unpriced
}

// Preview values allocations at current prices without trading.
// Unknown symbols and missing prices are flagged per line.
func (o *Orchestrator) Preview(ctx context.Context, allocations []domain.TargetAllocation) ([]PreviewLine, error) {
	if o.prices == nil {
		return nil, errors.New("preview: no price gateway configured")
	}

	lines := make([]PreviewLine, len(allocations))
	var addresses []string
	for i, a := range allocations {
		lines[i] = PreviewLine{Symbol: a.Symbol, Percentage: a.Percentage, Notional: a.Notional}
		if asset, ok := o.assets.BySymbol(a.Symbol); ok {
			addresses = append(addresses, asset.Address)
		}
	}

	prices := o.prices.GetPrices(ctx, addresses)
	for i := range lines {
		line := &lines[i]
		asset, ok := o.assets.BySymbol(line.Symbol)
		if !ok {
			line.Reason = domain.ErrUnknownAsset.Error()
			continue
		}
		price, ok := prices.Get(asset.Address)
		if !ok || !price.IsPositive() {
			line.Reason = domain.ErrPricingUnavailable.Error()
			if cause := prices.Reason(asset.Address); cause != nil {
				line.Reason = cause.Error()
			}
			continue
		}
		line.Priced = true
		line.Price = price
		line.EstimatedAmount = line.Notional.DivRound(price, asset.Decimals)
	}
	return lines, nil
}
