// Package demo provides a pre-seeded in-memory record store and the matching
// stub ledger, aggregator and signer. It is selected explicitly with the
// "demo" store setting and never mixed with real backends.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/idhash"
	jstub "xstock-portfolio/internal/jupiter/stub"
	signerstub "xstock-portfolio/internal/signer/stub"
	sstub "xstock-portfolio/internal/solana/stub"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/storage/memory"
)

// WalletName seeds the demo signer key.
const WalletName = "demo"

// Universe is the asset lookup the demo data is built from.
type Universe interface {
	Quote() domain.Asset
	BySymbol(symbol string) (domain.Asset, bool)
	Symbols() []string
}

// Prices are the fixed USD prices of the demo market.
var Prices = map[string]string{
	"SPYx":   "590.12",
	"QQQx":   "512.40",
	"AAPLx":  "228.35",
	"MSFTx":  "441.10",
	"GOOGLx": "182.75",
	"AMZNx":  "214.60",
	"METAx":  "705.30",
	"NVDAx":  "171.90",
	"TSLAx":  "338.20",
	"PLTRx":  "154.80",
	"COINx":  "348.45",
	"MSTRx":  "401.25",
	"HOODx":  "98.70",
	"CRCLx":  "182.10",
}

// entry prices of the seeded portfolio, 30 days before seeding.
var entryPrices = map[string]string{
	"QQQx":   "488.00",
	"AAPLx":  "212.50",
	"MSFTx":  "452.30",
	"NVDAx":  "139.80",
	"GOOGLx": "171.20",
}

var seedAllocation = []domain.TargetAllocation{
	{Symbol: "QQQx", Percentage: 30, Notional: decimal.NewFromInt(3000)},
	{Symbol: "AAPLx", Percentage: 20, Notional: decimal.NewFromInt(2000)},
	{Symbol: "MSFTx", Percentage: 20, Notional: decimal.NewFromInt(2000)},
	{Symbol: "NVDAx", Percentage: 15, Notional: decimal.NewFromInt(1500)},
	{Symbol: "GOOGLx", Percentage: 15, Notional: decimal.NewFromInt(1500)},
}

// Signer returns the signer of the demo wallet.
func Signer() *signerstub.Signer {
	return signerstub.New(WalletName)
}

// Wallet returns the demo wallet address.
func Wallet() string {
	return Signer().PublicKey()
}

// NewAggregator returns a stub aggregator quoting every universe asset at Prices.
func NewAggregator(u Universe) *jstub.Aggregator {
	agg := jstub.NewAggregator()
	q := u.Quote()
	agg.List(q.Address, q.Decimals, decimal.NewFromInt(1))
	for _, symbol := range u.Symbols() {
		a, ok := u.BySymbol(symbol)
		if !ok || a.Equal(q) {
			continue
		}
		if p, ok := Prices[symbol]; ok {
			agg.List(a.Address, a.Decimals, decimal.RequireFromString(p))
		}
	}
	return agg
}

// NewLedger returns a stub ledger that confirms every submitted transaction.
func NewLedger() *sstub.RPCClient {
	rpc := sstub.NewRPCClient()
	rpc.ConfirmOnSend = true
	return rpc
}

// NewStores returns in-memory stores holding one demo portfolio, its
// transaction history and a month of daily valuation snapshots ending at now.
func NewStores(ctx context.Context, u Universe, now time.Time) (*storage.Stores, error) {
	stores := memory.NewStores()
	wallet := Wallet()
	opened := now.Add(-30 * 24 * time.Hour).UTC()

	p := &domain.Portfolio{
		ID:            "demo-portfolio",
		WalletAddress: wallet,
		RiskLevel:     5,
		CreatedAt:     opened,
	}

	var records []*domain.TransactionRecord
	for i, alloc := range seedAllocation {
		asset, ok := u.BySymbol(alloc.Symbol)
		if !ok {
			return nil, fmt.Errorf("demo asset %s: %w", alloc.Symbol, domain.ErrUnknownAsset)
		}
		price := decimal.RequireFromString(entryPrices[alloc.Symbol])
		amount := alloc.Notional.DivRound(price, asset.Decimals)
		if err := p.ApplyFill(asset.Symbol, asset.Address, amount, price); err != nil {
			return nil, err
		}
		p.InitialInvestment = p.InitialInvestment.Add(alloc.Notional)

		createdAt := opened.Add(time.Duration(i) * time.Second)
		signature := fmt.Sprintf("demo-%s", alloc.Symbol)
		records = append(records, &domain.TransactionRecord{
			ID:            idhash.ComputeTransactionID(wallet, signature, alloc.Symbol, createdAt),
			WalletAddress: wallet,
			PortfolioID:   p.ID,
			Signature:     signature,
			Kind:          domain.TransactionBuy,
			Symbol:        alloc.Symbol,
			InputAddress:  u.Quote().Address,
			OutputAddress: asset.Address,
			InputAmount:   alloc.Notional,
			OutputAmount:  amount,
			Price:         price,
			Status:        domain.TransactionConfirmed,
			CreatedAt:     createdAt,
		})
	}
	p.SetTargets(seedAllocation)

	snapshots := history(p, opened, now)

	current := make(domain.PriceMap, len(p.Positions))
	for _, pos := range p.Positions {
		current[pos.Address] = decimal.RequireFromString(Prices[pos.Symbol])
	}
	p.Revalue(current)

	if err := stores.Portfolios.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("seed demo portfolio: %w", err)
	}
	for _, rec := range records {
		if err := stores.Transactions.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed demo transaction: %w", err)
		}
	}
	if err := stores.Snapshots.InsertBulk(ctx, snapshots); err != nil {
		return nil, fmt.Errorf("seed demo snapshots: %w", err)
	}
	return stores, nil
}

// history interpolates prices linearly from entry to current, one point per day.
func history(p *domain.Portfolio, from, to time.Time) []*domain.PortfolioSnapshot {
	days := int(to.Sub(from).Hours() / 24)
	out := make([]*domain.PortfolioSnapshot, 0, days+1)
	for d := 0; d <= days; d++ {
		frac := decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(max(days, 1))))
		prices := make(domain.PriceMap, len(p.Positions))
		for _, pos := range p.Positions {
			entry := decimal.RequireFromString(entryPrices[pos.Symbol])
			last := decimal.RequireFromString(Prices[pos.Symbol])
			prices[pos.Address] = entry.Add(last.Sub(entry).Mul(frac))
		}
		point := p.Clone()
		point.Revalue(prices)
		snap := point.Snapshot(from.Add(time.Duration(d)*24*time.Hour), 0)
		out = append(out, &snap)
	}
	return out
}
