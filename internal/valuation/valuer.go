package valuation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/pricing"
)

// AssetResolver looks assets up by ledger address.
type AssetResolver interface {
	ByAddress(address string) (domain.Asset, bool)
}

// Report is the result of one valuation pass.
type Report struct {
	Portfolio *domain.Portfolio
	// Unpriced lists the symbols that had no price, in position order.
	Unpriced []string
	Prices   *pricing.Prices
}

// Valuer revalues portfolios at current prices.
type Valuer struct {
	prices   pricing.Gateway
	balances *BalanceReader
	assets   AssetResolver
	logger   *zap.Logger
}

// Options for creating a Valuer.
type Options struct {
	// Balances refreshes position amounts from the ledger when set.
	Balances *BalanceReader
	Assets   AssetResolver
	Logger   *zap.Logger
}

// New creates a new Valuer.
func New(prices pricing.Gateway, opts Options) *Valuer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Valuer{
		prices:   prices,
		balances: opts.Balances,
		assets:   opts.Assets,
		logger:   opts.Logger,
	}
}

// Value returns a revalued copy of p. The input is not modified.
//
// When a BalanceReader is configured, amounts are first replaced by on-ledger
// balances. A balance read failure fails the pass; a missing price only marks
// the position unpriced.
func (v *Valuer) Value(ctx context.Context, p *domain.Portfolio) (*Report, error) {
	out := p.Clone()

	if v.balances != nil && v.assets != nil {
		if err := v.refresh(ctx, out); err != nil {
			return nil, err
		}
	}

	addresses := make([]string, len(out.Positions))
	for i, pos := range out.Positions {
		addresses[i] = pos.Address
	}
	prices := v.prices.GetPrices(ctx, addresses)
	out.Revalue(prices)

	rep := &Report{Portfolio: out, Prices: prices}
	for _, pos := range out.Positions {
		if !pos.Priced {
			rep.Unpriced = append(rep.Unpriced, pos.Symbol)
		}
	}
	if len(rep.Unpriced) > 0 {
		v.logger.Warn("portfolio partially priced",
			zap.String("wallet", p.WalletAddress),
			zap.Strings("unpriced", rep.Unpriced))
	}
	return rep, nil
}

func (v *Valuer) refresh(ctx context.Context, p *domain.Portfolio) error {
	for i := range p.Positions {
		pos := &p.Positions[i]
		asset, ok := v.assets.ByAddress(pos.Address)
		if !ok {
			return fmt.Errorf("position %s: %w", pos.Symbol, domain.ErrUnknownAsset)
		}
		amount, err := v.balances.Balance(ctx, p.WalletAddress, asset)
		if err != nil {
			return err
		}
		if !amount.Equal(pos.Amount) {
			v.logger.Debug("position amount refreshed",
				zap.String("wallet", p.WalletAddress),
				zap.String("symbol", pos.Symbol),
				zap.String("stored", pos.Amount.String()),
				zap.String("ledger", amount.String()))
		}
		pos.Amount = amount
	}
	return nil
}
