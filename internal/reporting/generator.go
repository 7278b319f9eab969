package reporting

import (
	"context"
	"fmt"
	"time"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/risk"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/valuation"
)

// DefaultWindow is the history covered when none is given.
const DefaultWindow = 30 * 24 * time.Hour

// Valuer values a portfolio at current prices.
type Valuer interface {
	Value(ctx context.Context, p *domain.Portfolio) (*valuation.Report, error)
}

// Generator produces reports from stored data.
type Generator struct {
	portfolios   storage.PortfolioStore
	transactions storage.TransactionLog
	snapshots    storage.SnapshotStore
	valuer       Valuer
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(stores *storage.Stores, valuer Valuer) *Generator {
	return &Generator{
		portfolios:   stores.Portfolios,
		transactions: stores.Transactions,
		snapshots:    stores.Snapshots,
		valuer:       valuer,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of wallet's active portfolio. History covers
// the window ending now; a non-positive window uses DefaultWindow.
func (g *Generator) Generate(ctx context.Context, wallet string, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	p, err := g.portfolios.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load portfolio of %s: %w", wallet, err)
	}
	rep, err := g.valuer.Value(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("value portfolio: %w", err)
	}
	valued := rep.Portfolio
	now := g.now()

	history, err := g.generateHistory(ctx, valued.ID, now.Add(-window), now)
	if err != nil {
		return nil, err
	}
	txs, err := g.generateTransactions(ctx, wallet)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt:  now,
		Wallet:       wallet,
		PortfolioID:  valued.ID,
		RiskLevel:    valued.RiskLevel,
		Summary:      generateSummary(valued, rep.Unpriced),
		Positions:    generatePositions(valued),
		Risk:         generateRisk(valued),
		History:      *history,
		Transactions: txs,
	}, nil
}

func generateSummary(p *domain.Portfolio, unpriced []string) SummarySection {
	return SummarySection{
		InitialInvestment: p.InitialInvestment.StringFixed(2),
		TotalValue:        p.TotalValue.StringFixed(2),
		PnlAbs:            p.CurrentPnlAbs.StringFixed(2),
		PnlPct:            p.CurrentPnlPct,
		RebalanceCount:    p.RebalanceCount,
		CreatedAt:         p.CreatedAt,
		LastRebalancedAt:  p.LastRebalancedAt,
		Unpriced:          unpriced,
	}
}

func generatePositions(p *domain.Portfolio) []PositionRow {
	rows := make([]PositionRow, 0, len(p.Positions))
	for _, pos := range p.Positions {
		row := PositionRow{
			Symbol:            pos.Symbol,
			Amount:            pos.Amount.String(),
			AverageEntryPrice: pos.AverageEntryPrice.String(),
			TargetPct:         pos.TargetPercentage,
		}
		if pos.Priced {
			row.CurrentPrice = pos.CurrentPrice.String()
			row.Value = pos.Value().StringFixed(2)
			row.CurrentPct = pos.CurrentPercentage
			row.DriftPct = pos.CurrentPercentage - pos.TargetPercentage
			row.PnlPct = pos.UnrealizedPnlPct
		}
		rows = append(rows, row)
	}
	return rows
}

func generateRisk(p *domain.Portfolio) RiskSection {
	m := risk.Score(p.Positions, p.RiskLevel)
	return RiskSection{
		Score:           m.RiskScore,
		Tolerance:       m.RiskTolerance,
		Volatility:      m.PortfolioVolatility,
		SharpeRatio:     m.SharpeRatio,
		Diversification: m.DiversificationScore,
		Recommendation:  m.Recommendation,
		RebalanceNeeded: m.RebalanceNeeded,
	}
}

// generateHistory summarizes the snapshots within [from, to].
func (g *Generator) generateHistory(ctx context.Context, portfolioID string, from, to time.Time) (*HistorySection, error) {
	snapshots, err := g.snapshots.GetByPortfolio(ctx, portfolioID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	h := &HistorySection{From: from, To: to, Points: len(snapshots)}
	if len(snapshots) == 0 {
		return h, nil
	}

	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.TotalValue
	}
	h.FirstValue = values[0]
	h.LastValue = values[len(values)-1]
	if h.FirstValue != 0 {
		h.ChangePct = (h.LastValue - h.FirstValue) / h.FirstValue * 100
	}
	h.MaxDrawdownPct = risk.MaxDrawdown(values)
	return h, nil
}

func (g *Generator) generateTransactions(ctx context.Context, wallet string) ([]TransactionRow, error) {
	records, err := g.transactions.ListByWallet(ctx, wallet, 0)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	rows := make([]TransactionRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, TransactionRow{
			CreatedAt:    rec.CreatedAt,
			Kind:         string(rec.Kind),
			Symbol:       rec.Symbol,
			InputAmount:  rec.InputAmount.String(),
			OutputAmount: rec.OutputAmount.String(),
			Price:        rec.Price.String(),
			Status:       string(rec.Status),
			Signature:    rec.Signature,
		})
	}
	return rows, nil
}
