package orchestrator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
)

// Outcome classifies a run by how many of its swaps were confirmed.
type Outcome string

const (
	AllSuccessful  Outcome = "ALL_SUCCESSFUL"
	PartialSuccess Outcome = "PARTIAL_SUCCESS"
	TotalFailure   Outcome = "TOTAL_FAILURE"
)

func outcomeOf(confirmed, total int) Outcome {
	switch {
	case confirmed == total:
		return AllSuccessful
	case confirmed == 0:
		return TotalFailure
	default:
		return PartialSuccess
	}
}

// MissingAsset is an order that did not produce a position change.
type MissingAsset struct {
	Symbol string
	Reason string
}

func (m MissingAsset) String() string {
	return fmt.Sprintf("%s (%s)", m.Symbol, m.Reason)
}

// OrderResult pairs an order with the swap it produced.
type OrderResult struct {
	Order Order
	Swap  domain.SwapResult
}

// Result is the aggregated outcome of a run.
type Result struct {
	Kind        string
	Wallet      string
	PortfolioID string // empty when no portfolio exists after the run
	Outcome     Outcome
	Results     []OrderResult  // one per attempted swap, in order
	Missing     []MissingAsset // failed or never attempted orders
	Skipped     []MissingAsset // allocation entries filtered out before execution
	Deployed    decimal.Decimal
	// StoreErrors lists confirmed swaps whose bookkeeping failed. The ledger is
	// the source of truth for these; the portfolio needs reconciliation.
	StoreErrors []string
	Portfolio   *domain.Portfolio
}

// Confirmed returns the number of confirmed swaps.
func (r *Result) Confirmed() int {
	n := 0
	for _, res := range r.Results {
		if res.Swap.Success {
			n++
		}
	}
	return n
}

// Err returns ErrPartialPortfolioFailure or ErrTotalFailure wrapping the missing
// assets, or nil when every order was confirmed.
func (r *Result) Err() error {
	switch r.Outcome {
	case PartialSuccess:
		return fmt.Errorf("%w: missing %s", domain.ErrPartialPortfolioFailure, joinMissing(r.Missing))
	case TotalFailure:
		return fmt.Errorf("%w: missing %s", domain.ErrTotalFailure, joinMissing(r.Missing))
	default:
		return nil
	}
}

// MissingSymbols returns the symbols of Missing, in order.
func (r *Result) MissingSymbols() []string {
	out := make([]string, len(r.Missing))
	for i, m := range r.Missing {
		out[i] = m.Symbol
	}
	return out
}

// Summary returns a one-paragraph human description of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	total := r.Confirmed() + len(r.Missing)

	switch r.Outcome {
	case AllSuccessful:
		fmt.Fprintf(&b, "All %d swaps confirmed.", total)
	case PartialSuccess:
		fmt.Fprintf(&b, "%d of %d swaps confirmed. Missing: %s.", r.Confirmed(), total, joinMissing(r.Missing))
	case TotalFailure:
		fmt.Fprintf(&b, "No swap was confirmed and no capital was deployed. Failed: %s.", joinMissing(r.Missing))
	}
	if r.Deployed.IsPositive() {
		fmt.Fprintf(&b, " Deployed %s.", r.Deployed.StringFixed(2))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, " Skipped: %s.", joinMissing(r.Skipped))
	}
	if len(r.StoreErrors) > 0 {
		fmt.Fprintf(&b, " %d confirmed swaps need reconciliation.", len(r.StoreErrors))
	}
	return b.String()
}

func joinMissing(missing []MissingAsset) string {
	parts := make([]string, len(missing))
	for i, m := range missing {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
