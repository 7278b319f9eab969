// Package valuation prices portfolios and reads their on-ledger balances.
package valuation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/solana"
)

// BalanceReader reads token balances held by a wallet's associated token accounts.
type BalanceReader struct {
	rpc solana.RPCClient
}

// NewBalanceReader creates a new BalanceReader.
func NewBalanceReader(rpc solana.RPCClient) *BalanceReader {
	return &BalanceReader{rpc: rpc}
}

// Balance returns the amount of asset held by wallet in token units.
// A wallet without a token account for the asset holds zero.
func (r *BalanceReader) Balance(ctx context.Context, wallet string, asset domain.Asset) (decimal.Decimal, error) {
	ata, err := solana.FindAssociatedTokenAddress(wallet, asset.Address, asset.Program)
	if err != nil {
		return decimal.Zero, fmt.Errorf("derive token account of %s for %s: %w", wallet, asset.Symbol, err)
	}

	bal, err := r.rpc.GetTokenAccountBalance(ctx, ata)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s for %s: %w", asset.Symbol, wallet, err)
	}

	amount, err := bal.UIAmount()
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance of %s for %s: %w", asset.Symbol, wallet, err)
	}
	return amount, nil
}
