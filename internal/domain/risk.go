package domain

// RiskMetrics is derived from a position set on demand.
// It is never the source of truth for anything else.
type RiskMetrics struct {
	PortfolioVolatility  float64 // RMS of position PnL percentages, >= 0
	SharpeRatio          float64
	DiversificationScore float64 // [0, 1]
	RiskScore            int     // [1, 10]
	RiskTolerance        int     // the user's stated tolerance the score was compared against
	Recommendation       string
	Actions              []string
	Adjustments          []string
	RebalanceNeeded      bool
}
