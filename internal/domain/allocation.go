package domain

import "github.com/shopspring/decimal"

// TargetAllocation is one entry of the target allocation for a risk level.
// Percentages of a full allocation sum to exactly 100.
type TargetAllocation struct {
	Symbol     string
	Percentage float64         // share of capital in [0, 100]
	Notional   decimal.Decimal // capital * percentage / 100, in quote units
}
