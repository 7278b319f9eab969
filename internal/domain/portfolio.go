package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Risk level bounds.
const (
	MinRiskLevel = 1
	MaxRiskLevel = 10
)

// ValidRiskLevel reports whether level is within [MinRiskLevel, MaxRiskLevel].
func ValidRiskLevel(level int) bool {
	return level >= MinRiskLevel && level <= MaxRiskLevel
}

// Position is a holding of one asset inside a portfolio.
type Position struct {
	Symbol            string
	Address           string
	Amount            decimal.Decimal // token units
	TargetPercentage  float64
	CurrentPercentage float64 // (amount * currentPrice) / totalValue * 100, valid only when Priced
	AverageEntryPrice decimal.Decimal
	CurrentPrice      decimal.Decimal
	UnrealizedPnlAbs  decimal.Decimal
	UnrealizedPnlPct  float64
	Priced            bool // false when the last valuation pass had no price for this asset
}

// Value returns amount * currentPrice.
func (p Position) Value() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice)
}

// CostBasis returns amount * averageEntryPrice.
func (p Position) CostBasis() decimal.Decimal {
	return p.Amount.Mul(p.AverageEntryPrice)
}

// Portfolio is the single active portfolio of a wallet.
// TotalValue and the PnL fields are derived: call Revalue after any amount or price change.
type Portfolio struct {
	ID                string
	WalletAddress     string
	RiskLevel         int
	InitialInvestment decimal.Decimal
	TotalValue        decimal.Decimal
	CurrentPnlAbs     decimal.Decimal
	CurrentPnlPct     float64
	LastRebalancedAt  time.Time
	RebalanceCount    int
	Active            bool
	PartiallyPriced   bool  // true when at least one position had no price in the last valuation
	Version           int64 // optimistic concurrency token, bumped by the store on update
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Positions         []Position
}

// PriceLookup resolves a price by asset address.
// A missing price is reported with ok=false, never as zero.
type PriceLookup interface {
	Get(address string) (decimal.Decimal, bool)
}

// Position returns the position for symbol, if held.
func (p *Portfolio) Position(symbol string) (*Position, bool) {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return &p.Positions[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to mutate.
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Positions = make([]Position, len(p.Positions))
	copy(c.Positions, p.Positions)
	return &c
}

// Revalue applies prices to every position and recomputes all derived fields in one pass.
//
// Positions without a price are marked unpriced and excluded from the total, so they
// never distort the percentages of priced positions. When every position is priced,
// PnL is measured against the initial investment; otherwise it is the sum of the
// unrealized PnL of priced positions against their cost basis.
func (p *Portfolio) Revalue(prices PriceLookup) {
	total := decimal.Zero
	pricedCost := decimal.Zero
	pricedPnl := decimal.Zero
	p.PartiallyPriced = false

	for i := range p.Positions {
		pos := &p.Positions[i]
		price, ok := prices.Get(pos.Address)
		if !ok {
			pos.Priced = false
			pos.CurrentPercentage = 0
			p.PartiallyPriced = true
			continue
		}

		pos.Priced = true
		pos.CurrentPrice = price
		pos.UnrealizedPnlAbs = pos.Value().Sub(pos.CostBasis())
		pos.UnrealizedPnlPct = 0
		if pos.AverageEntryPrice.IsPositive() {
			pos.UnrealizedPnlPct = price.Sub(pos.AverageEntryPrice).
				Div(pos.AverageEntryPrice).
				Mul(decimal.NewFromInt(100)).
				InexactFloat64()
		}

		total = total.Add(pos.Value())
		pricedCost = pricedCost.Add(pos.CostBasis())
		pricedPnl = pricedPnl.Add(pos.UnrealizedPnlAbs)
	}

	for i := range p.Positions {
		pos := &p.Positions[i]
		if !pos.Priced {
			continue
		}
		pos.CurrentPercentage = 0
		if total.IsPositive() {
			pos.CurrentPercentage = pos.Value().Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
	}

	p.TotalValue = total
	switch {
	case !p.PartiallyPriced && p.InitialInvestment.IsPositive():
		p.CurrentPnlAbs = total.Sub(p.InitialInvestment)
		p.CurrentPnlPct = p.CurrentPnlAbs.Div(p.InitialInvestment).Mul(decimal.NewFromInt(100)).InexactFloat64()
	case pricedCost.IsPositive():
		p.CurrentPnlAbs = pricedPnl
		p.CurrentPnlPct = pricedPnl.Div(pricedCost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	default:
		p.CurrentPnlAbs = pricedPnl
		p.CurrentPnlPct = 0
	}
}

// ApplyFill records a settled swap leg: a positive delta buys, a negative delta sells.
// A buy into an asset not yet held creates the position; a sell that brings the amount
// to zero removes it. Buys update the weighted average entry price; sells keep it.
func (p *Portfolio) ApplyFill(symbol, address string, delta, price decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	pos, held := p.Position(symbol)
	if !held {
		if delta.IsNegative() {
			return fmt.Errorf("sell %s: %w", symbol, ErrInsufficientPosition)
		}
		p.Positions = append(p.Positions, Position{
			Symbol:            symbol,
			Address:           address,
			Amount:            delta,
			AverageEntryPrice: price,
			CurrentPrice:      price,
			Priced:            true,
		})
		p.sortPositions()
		return nil
	}

	if delta.IsPositive() {
		newAmount := pos.Amount.Add(delta)
		pos.AverageEntryPrice = pos.CostBasis().Add(delta.Mul(price)).Div(newAmount)
		pos.Amount = newAmount
		pos.CurrentPrice = price
		return nil
	}

	if pos.Amount.Add(delta).IsNegative() {
		return fmt.Errorf("sell %s %s of %s: %w", delta.Neg(), symbol, pos.Amount, ErrInsufficientPosition)
	}
	pos.Amount = pos.Amount.Add(delta)
	pos.CurrentPrice = price
	if pos.Amount.IsZero() {
		p.removePosition(symbol)
	}
	return nil
}

// SetTargets stamps target percentages on held positions.
// Held symbols absent from targets get a zero target.
func (p *Portfolio) SetTargets(targets []TargetAllocation) {
	bySymbol := make(map[string]float64, len(targets))
	for _, t := range targets {
		bySymbol[t.Symbol] = t.Percentage
	}
	for i := range p.Positions {
		p.Positions[i].TargetPercentage = bySymbol[p.Positions[i].Symbol]
	}
}

// MarkRebalanced records a rebalance attempt at now.
func (p *Portfolio) MarkRebalanced(now time.Time) {
	p.LastRebalancedAt = now
	p.RebalanceCount++
}

// Snapshot converts the current valuation into an analytics point.
func (p *Portfolio) Snapshot(now time.Time, maxDrift float64) PortfolioSnapshot {
	return PortfolioSnapshot{
		PortfolioID:     p.ID,
		WalletAddress:   p.WalletAddress,
		TimestampMs:     now.UnixMilli(),
		RiskLevel:       p.RiskLevel,
		TotalValue:      p.TotalValue.InexactFloat64(),
		PnlAbs:          p.CurrentPnlAbs.InexactFloat64(),
		PnlPct:          p.CurrentPnlPct,
		PositionCount:   len(p.Positions),
		MaxDrift:        maxDrift,
		PartiallyPriced: p.PartiallyPriced,
	}
}

func (p *Portfolio) removePosition(symbol string) {
	out := p.Positions[:0]
	for _, pos := range p.Positions {
		if pos.Symbol != symbol {
			out = append(out, pos)
		}
	}
	p.Positions = out
}

func (p *Portfolio) sortPositions() {
	sort.Slice(p.Positions, func(i, j int) bool {
		return p.Positions[i].Symbol < p.Positions[j].Symbol
	})
}
