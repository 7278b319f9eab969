package rebalance

import (
	"time"

	"xstock-portfolio/internal/domain"
)

// DefaultMinInterval is the minimum time between two rebalance attempts of a portfolio.
const DefaultMinInterval = 24 * time.Hour

// TimeGate admits portfolios that have not been rebalanced for MinInterval.
type TimeGate struct {
	MinInterval time.Duration
}

// Due reports whether p may be considered at now. A portfolio never rebalanced
// is measured from its creation time.
func (g TimeGate) Due(p *domain.Portfolio, now time.Time) bool {
	interval := g.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	last := p.LastRebalancedAt
	if last.IsZero() {
		last = p.CreatedAt
	}
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(interval))
}
