package reporting

import "time"

// Report is the account statement of one portfolio.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Wallet      string
	PortfolioID string
	RiskLevel   int

	Summary      SummarySection
	Positions    []PositionRow // in portfolio order
	Risk         RiskSection
	History      HistorySection
	Transactions []TransactionRow // newest first
}

// SummarySection contains the valued totals.
type SummarySection struct {
	InitialInvestment string
	TotalValue        string
	PnlAbs            string
	PnlPct            float64
	RebalanceCount    int
	CreatedAt         time.Time
	LastRebalancedAt  time.Time // zero if never rebalanced
	Unpriced          []string  // symbols valued without a price
}

// PositionRow represents one row in the positions table.
type PositionRow struct {
	Symbol            string
	Amount            string
	AverageEntryPrice string
	CurrentPrice      string // empty when unpriced
	Value             string
	CurrentPct        float64
	TargetPct         float64
	DriftPct          float64 // current - target
	PnlPct            float64
}

// RiskSection contains the risk metrics against the portfolio's own risk level.
type RiskSection struct {
	Score           int
	Tolerance       int
	Volatility      float64
	SharpeRatio     float64
	Diversification float64
	Recommendation  string
	RebalanceNeeded bool
}

// HistorySection summarizes valuation snapshots in the report window.
type HistorySection struct {
	From           time.Time
	To             time.Time
	Points         int
	FirstValue     float64
	LastValue      float64
	ChangePct      float64 // (last - first) / first * 100, 0 if first == 0
	MaxDrawdownPct float64
}

// TransactionRow represents one logged swap.
type TransactionRow struct {
	CreatedAt    time.Time
	Kind         string
	Symbol       string
	InputAmount  string
	OutputAmount string
	Price        string
	Status       string
	Signature    string
}
