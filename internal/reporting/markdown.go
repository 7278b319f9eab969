package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Portfolio Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Wallet: `%s` | Portfolio: `%s` | Risk level: %d\n\n", r.Wallet, r.PortfolioID, r.RiskLevel))

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Initial Investment | %s |\n", s.InitialInvestment))
	sb.WriteString(fmt.Sprintf("| Total Value | %s |\n", s.TotalValue))
	sb.WriteString(fmt.Sprintf("| PnL | %s (%.2f%%) |\n", s.PnlAbs, s.PnlPct))
	sb.WriteString(fmt.Sprintf("| Created | %s |\n", s.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| Rebalances | %d |\n", s.RebalanceCount))
	if !s.LastRebalancedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("| Last Rebalanced | %s |\n", s.LastRebalancedAt.Format(time.RFC3339)))
	}
	sb.WriteString("\n")
	if len(s.Unpriced) > 0 {
		sb.WriteString(fmt.Sprintf("**Partially priced.** No price for: %s. Totals exclude these positions.\n\n",
			strings.Join(s.Unpriced, ", ")))
	}

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Symbol | Amount | Avg Entry | Price | Value | Current% | Target% | Drift | PnL% |\n")
		sb.WriteString("|--------|--------|-----------|-------|-------|----------|---------|-------|------|\n")
		for _, p := range r.Positions {
			if p.CurrentPrice == "" {
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | - | - | - | %.2f | - | - |\n",
					p.Symbol, p.Amount, p.AverageEntryPrice, p.TargetPct))
				continue
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %.2f | %.2f | %+.2f | %.2f |\n",
				p.Symbol, p.Amount, p.AverageEntryPrice, p.CurrentPrice, p.Value,
				p.CurrentPct, p.TargetPct, p.DriftPct, p.PnlPct))
		}
	} else {
		sb.WriteString("No positions.\n")
	}
	sb.WriteString("\n")

	// Risk
	rk := r.Risk
	sb.WriteString("## Risk\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Risk Score | %d / 10 (tolerance %d) |\n", rk.Score, rk.Tolerance))
	sb.WriteString(fmt.Sprintf("| Volatility | %.4f |\n", rk.Volatility))
	sb.WriteString(fmt.Sprintf("| Sharpe Ratio | %.4f |\n", rk.SharpeRatio))
	sb.WriteString(fmt.Sprintf("| Diversification | %.4f |\n", rk.Diversification))
	sb.WriteString("\n")
	sb.WriteString(rk.Recommendation + "\n\n")

	// History
	h := r.History
	sb.WriteString("## Valuation History\n\n")
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n", h.From.Format(time.RFC3339), h.To.Format(time.RFC3339)))
	if h.Points > 0 {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Snapshots | %d |\n", h.Points))
		sb.WriteString(fmt.Sprintf("| First Value | %.2f |\n", h.FirstValue))
		sb.WriteString(fmt.Sprintf("| Last Value | %.2f |\n", h.LastValue))
		sb.WriteString(fmt.Sprintf("| Change | %.2f%% |\n", h.ChangePct))
		sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f%% |\n", h.MaxDrawdownPct))
	} else {
		sb.WriteString("No snapshots in window.\n")
	}
	sb.WriteString("\n")

	// Transactions
	sb.WriteString("## Transactions\n\n")
	if len(r.Transactions) > 0 {
		sb.WriteString("| Time | Kind | Symbol | In | Out | Price | Status | Signature |\n")
		sb.WriteString("|------|------|--------|----|-----|-------|--------|-----------|\n")
		for _, t := range r.Transactions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s |\n",
				t.CreatedAt.Format(time.RFC3339), t.Kind, t.Symbol,
				t.InputAmount, t.OutputAmount, t.Price, t.Status, t.Signature))
		}
	} else {
		sb.WriteString("No transactions.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
