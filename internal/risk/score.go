// Package risk scores a set of positions and compares the score with a stated tolerance.
//
// The volatility figure is a proxy: the RMS of each position's unrealized PnL
// percentage. It measures how far positions sit from their entry prices, not the
// dispersion of price returns over time, and understates risk for assets that
// swing back and forth around their entry.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
)

// Score thresholds.
const (
	BaseScore = 5

	VolatilityHigh     = 40.0
	VolatilityElevated = 25.0
	VolatilityModerate = 15.0
	VolatilityLow      = 5.0

	DiversificationPoor   = 0.3
	DiversificationFair   = 0.5
	DiversificationStrong = 0.8

	PositionCountBonus    = 0.02
	MaxPositionCountBonus = 0.2

	ToleranceMismatchLimit = 2
)

// Score computes the risk metrics of positions and the recommendation against tolerance.
func Score(positions []domain.Position, tolerance int) domain.RiskMetrics {
	pnl := make([]float64, len(positions))
	for i, p := range positions {
		pnl[i] = p.UnrealizedPnlPct
	}

	vol := rms(pnl)
	sharpe := 0.0
	if vol > 0 {
		sharpe = mean(pnl) / vol
	}
	div := Diversification(positions)
	score := RiskScore(vol, div)
	advice := Recommend(score, tolerance)

	adjustments := advice.Adjustments
	if len(positions) > 0 && div < DiversificationFair {
		adjustments = append(adjustments, "Spread capital across more positions to lower concentration")
	}

	return domain.RiskMetrics{
		PortfolioVolatility:  vol,
		SharpeRatio:          sharpe,
		DiversificationScore: div,
		RiskScore:            score,
		RiskTolerance:        tolerance,
		Recommendation:       advice.Recommendation,
		Actions:              advice.Actions,
		Adjustments:          adjustments,
		RebalanceNeeded:      advice.RebalanceNeeded,
	}
}

// Volatility returns the RMS of the positions' unrealized PnL percentages.
// This is a proxy: it does not measure dispersion of realized price returns.
func Volatility(positions []domain.Position) float64 {
	pnl := make([]float64, len(positions))
	for i, p := range positions {
		pnl[i] = p.UnrealizedPnlPct
	}
	return rms(pnl)
}

// Diversification returns 1 − HHI of value-weighted shares plus a position-count
// bonus capped at MaxPositionCountBonus, clamped to [0, 1].
// Fewer than two valued positions score 0.
func Diversification(positions []domain.Position) float64 {
	total := decimal.Zero
	var values []decimal.Decimal
	for _, p := range positions {
		v := p.Value()
		if v.IsPositive() {
			values = append(values, v)
			total = total.Add(v)
		}
	}
	n := len(values)
	if n < 2 {
		return 0
	}

	hhi := 0.0
	for _, v := range values {
		share := v.Div(total).InexactFloat64()
		hhi += share * share
	}
	bonus := math.Min(MaxPositionCountBonus, PositionCountBonus*float64(n))
	return clamp(1-hhi+bonus, 0, 1)
}

// RiskScore applies the step rules to volatility and diversification.
// The result is in [MinRiskLevel, MaxRiskLevel].
func RiskScore(volatility, diversification float64) int {
	score := BaseScore

	switch {
	case volatility > VolatilityHigh:
		score += 3
	case volatility > VolatilityElevated:
		score += 2
	case volatility > VolatilityModerate:
		score++
	case volatility < VolatilityLow:
		score--
	}

	switch {
	case diversification < DiversificationPoor:
		score += 2
	case diversification < DiversificationFair:
		score++
	case diversification > DiversificationStrong:
		score--
	}

	return max(domain.MinRiskLevel, min(domain.MaxRiskLevel, score))
}
