// Package rebalance detects allocation drift and brings portfolios back to target.
//
// The pieces compose: Comparator decides from positions alone, TimeGate decides
// from the last rebalance time alone, Planner turns targets into orders, and
// Rebalancer and Scheduler wire them to valuation and execution.
package rebalance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"xstock-portfolio/internal/domain"
)

// DefaultThreshold is the per-position drift, in percentage points, that triggers a rebalance.
const DefaultThreshold = 5.0

// Drift is the distance of one position from its target.
type Drift struct {
	Symbol  string
	Current float64 // percent of portfolio value
	Target  float64 // percent
	Drift   float64 // |Current - Target|
}

// Comparator flags positions whose drift exceeds Threshold.
type Comparator struct {
	Threshold float64
}

// NeedsRebalance reports whether any single position drifts more than the threshold.
// Drifts are returned for every position, largest first.
//
// Unpriced positions have no meaningful current percentage, so the decision is
// withheld: the result is false with an error wrapping domain.ErrPricingUnavailable.
func (c Comparator) NeedsRebalance(positions []domain.Position) (bool, []Drift, error) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	drifts := make([]Drift, 0, len(positions))
	var unpriced []string
	for _, p := range positions {
		if !p.Priced {
			unpriced = append(unpriced, p.Symbol)
			continue
		}
		drifts = append(drifts, Drift{
			Symbol:  p.Symbol,
			Current: p.CurrentPercentage,
			Target:  p.TargetPercentage,
			Drift:   math.Abs(p.CurrentPercentage - p.TargetPercentage),
		})
	}
	sortDrifts(drifts)

	if len(unpriced) > 0 {
		return false, drifts, fmt.Errorf("unpriced %s: %w", strings.Join(unpriced, ", "), domain.ErrPricingUnavailable)
	}
	return len(drifts) > 0 && drifts[0].Drift > threshold, drifts, nil
}

// MaxDrift returns the largest drift, or 0.
func MaxDrift(drifts []Drift) float64 {
	m := 0.0
	for _, d := range drifts {
		m = math.Max(m, d.Drift)
	}
	return m
}

func sortDrifts(drifts []Drift) {
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Drift != drifts[j].Drift {
			return drifts[i].Drift > drifts[j].Drift
		}
		return drifts[i].Symbol < drifts[j].Symbol
	})
}
