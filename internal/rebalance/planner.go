package rebalance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/orchestrator"
)

// DefaultDust is the smallest trade, in quote units, worth executing.
var DefaultDust = decimal.NewFromInt(1)

// DefaultQuoteDecimals is the precision buy notionals are floored to.
const DefaultQuoteDecimals int32 = 6

// AssetResolver looks assets up in the tradable universe.
type AssetResolver interface {
	BySymbol(symbol string) (domain.Asset, bool)
}

// Planner turns a valued portfolio and its targets into corrective orders.
type Planner struct {
	Assets        AssetResolver
	Dust          decimal.Decimal // trades below this value are skipped, defaults to DefaultDust
	QuoteDecimals int32           // defaults to DefaultQuoteDecimals
}

// Plan returns sells of overweight positions followed by buys of underweight
// ones, each group ordered by symbol. Sells come first so the quote they
// release funds the buys. Positions absent from targets are sold entirely.
//
// The portfolio must be fully priced; values are taken at current prices.
func (pl Planner) Plan(p *domain.Portfolio, targets []domain.TargetAllocation) ([]orchestrator.Order, error) {
	if p.PartiallyPriced {
		return nil, fmt.Errorf("plan %s: %w", p.ID, domain.ErrPricingUnavailable)
	}
	dust := pl.Dust
	if !dust.IsPositive() {
		dust = DefaultDust
	}
	quoteDecimals := pl.QuoteDecimals
	if quoteDecimals <= 0 {
		quoteDecimals = DefaultQuoteDecimals
	}

	total := p.TotalValue
	hundred := decimal.NewFromInt(100)
	pct := make(map[string]decimal.Decimal, len(targets))
	for _, t := range targets {
		pct[t.Symbol] = decimal.NewFromFloat(t.Percentage)
	}
	targetValue := func(symbol string) decimal.Decimal {
		w, ok := pct[symbol]
		if !ok {
			return decimal.Zero
		}
		return total.Mul(w).Div(hundred)
	}

	var sells, buys []orchestrator.Order
	held := make(map[string]bool, len(p.Positions))
	for _, pos := range p.Positions {
		held[pos.Symbol] = true
		asset, ok := pl.Assets.BySymbol(pos.Symbol)
		if !ok {
			return nil, fmt.Errorf("position %s: %w", pos.Symbol, domain.ErrUnknownAsset)
		}
		if !pos.CurrentPrice.IsPositive() {
			return nil, fmt.Errorf("position %s: %w", pos.Symbol, domain.ErrPricingUnavailable)
		}

		diff := targetValue(pos.Symbol).Sub(pos.Value())
		switch {
		case diff.Neg().GreaterThanOrEqual(dust):
			amount := pos.Amount
			if _, targeted := pct[pos.Symbol]; targeted {
				amount = decimal.Min(pos.Amount, diff.Neg().Div(pos.CurrentPrice).RoundFloor(asset.Decimals))
			}
			if amount.IsPositive() {
				sells = append(sells, orchestrator.Order{Kind: domain.TransactionSell, Asset: asset, Amount: amount})
			}
		case diff.GreaterThanOrEqual(dust):
			buys = append(buys, orchestrator.Order{Kind: domain.TransactionBuy, Asset: asset, Amount: diff.RoundFloor(quoteDecimals)})
		}
	}

	for _, t := range targets {
		if held[t.Symbol] {
			continue
		}
		value := targetValue(t.Symbol).RoundFloor(quoteDecimals)
		if value.LessThan(dust) {
			continue
		}
		asset, ok := pl.Assets.BySymbol(t.Symbol)
		if !ok {
			return nil, fmt.Errorf("target %s: %w", t.Symbol, domain.ErrUnknownAsset)
		}
		buys = append(buys, orchestrator.Order{Kind: domain.TransactionBuy, Asset: asset, Amount: value})
	}

	sortOrders(sells)
	sortOrders(buys)
	return append(sells, buys...), nil
}

func sortOrders(orders []orchestrator.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Asset.Symbol < orders[j].Asset.Symbol
	})
}
