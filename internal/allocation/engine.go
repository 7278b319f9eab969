// Package allocation maps a risk level and an amount of capital to target positions.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
)

// ErrInvalidCapital is returned for negative capital.
var ErrInvalidCapital = errors.New("capital must be non-negative")

// DefaultPrecision is the number of decimals of the quote asset (USDC).
const DefaultPrecision int32 = 6

// SymbolResolver reports whether a symbol is part of the tradable universe.
type SymbolResolver interface {
	BySymbol(symbol string) (domain.Asset, bool)
}

// Engine computes target allocations from a static table. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	table     Table
	precision int32
}

// Options for creating Engine.
type Options struct {
	Table     Table // defaults to DefaultTable
	Precision int32 // decimals of the quote asset, defaults to DefaultPrecision
}

// New creates a new Engine.
func New(opts Options) *Engine {
	if opts.Table == nil {
		opts.Table = DefaultTable
	}
	if opts.Precision <= 0 {
		opts.Precision = DefaultPrecision
	}
	return &Engine{table: opts.Table, precision: opts.Precision}
}

// Compute returns the target allocation for riskLevel with capital split across it.
//
// Notionals are floored to the quote precision. The leftover minimal units go to the
// entry with the highest percentage (ties broken by symbol), so notionals always sum
// to capital floored to the quote precision.
func (e *Engine) Compute(riskLevel int, capital decimal.Decimal) ([]domain.TargetAllocation, error) {
	if !domain.ValidRiskLevel(riskLevel) {
		return nil, fmt.Errorf("risk level %d: %w", riskLevel, domain.ErrInvalidRiskLevel)
	}
	if capital.IsNegative() {
		return nil, fmt.Errorf("capital %s: %w", capital, ErrInvalidCapital)
	}
	weights, ok := e.table[riskLevel]
	if !ok || len(weights) == 0 {
		return nil, fmt.Errorf("risk level %d has no table entry: %w", riskLevel, domain.ErrInvalidRiskLevel)
	}

	total := capital.RoundFloor(e.precision)
	hundred := decimal.NewFromInt(100)

	out := make([]domain.TargetAllocation, len(weights))
	allocated := decimal.Zero
	for i, w := range weights {
		notional := total.Mul(decimal.NewFromFloat(w.Percentage)).Div(hundred).RoundFloor(e.precision)
		out[i] = domain.TargetAllocation{
			Symbol:     w.Symbol,
			Percentage: w.Percentage,
			Notional:   notional,
		}
		allocated = allocated.Add(notional)
	}

	if rem := total.Sub(allocated); rem.IsPositive() {
		idx := largest(out)
		out[idx].Notional = out[idx].Notional.Add(rem)
	}
	return out, nil
}

// Levels returns the configured risk levels in ascending order.
func (e *Engine) Levels() []int {
	levels := make([]int, 0, len(e.table))
	for l := range e.table {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

// Validate checks the table: every level in [1,10] present, percentages summing
// to 100, no duplicate symbols, and every symbol known to the resolver.
func (e *Engine) Validate(assets SymbolResolver) error {
	for level := domain.MinRiskLevel; level <= domain.MaxRiskLevel; level++ {
		weights, ok := e.table[level]
		if !ok || len(weights) == 0 {
			return fmt.Errorf("risk level %d: no allocation", level)
		}
		seen := make(map[string]bool, len(weights))
		sum := 0.0
		for _, w := range weights {
			if w.Percentage <= 0 || w.Percentage > 100 {
				return fmt.Errorf("risk level %d: %s percentage %v out of range", level, w.Symbol, w.Percentage)
			}
			if seen[w.Symbol] {
				return fmt.Errorf("risk level %d: duplicate symbol %s", level, w.Symbol)
			}
			seen[w.Symbol] = true
			if assets != nil {
				if _, ok := assets.BySymbol(w.Symbol); !ok {
					return fmt.Errorf("risk level %d: %s: %w", level, w.Symbol, domain.ErrUnknownAsset)
				}
			}
			sum += w.Percentage
		}
		if math.Abs(sum-100) > 1e-9 {
			return fmt.Errorf("risk level %d: percentages sum to %v, want 100", level, sum)
		}
	}
	return nil
}

func largest(allocs []domain.TargetAllocation) int {
	best := 0
	for i := 1; i < len(allocs); i++ {
		a, b := allocs[i], allocs[best]
		if a.Percentage > b.Percentage || (a.Percentage == b.Percentage && a.Symbol < b.Symbol) {
			best = i
		}
	}
	return best
}
