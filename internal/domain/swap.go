package domain

import "github.com/shopspring/decimal"

// SwapStage is a state of the per-attempt swap state machine.
type SwapStage string

// Swap stages, in order. Failed is reachable from any stage.
const (
	StageQuoteRequested SwapStage = "QUOTE_REQUESTED"
	StageQuoteReceived  SwapStage = "QUOTE_RECEIVED"
	StageTxBuilt        SwapStage = "TX_BUILT"
	StageTxSigned       SwapStage = "TX_SIGNED"
	StageTxSubmitted    SwapStage = "TX_SUBMITTED"
	StageTxConfirmed    SwapStage = "TX_CONFIRMED"
	StageFailed         SwapStage = "FAILED"
)

// String returns the string representation of SwapStage.
func (s SwapStage) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s SwapStage) IsTerminal() bool {
	return s == StageTxConfirmed || s == StageFailed
}

// SwapResult is the outcome of one swap attempt.
// It is aggregated by the orchestrator and never persisted on its own.
type SwapResult struct {
	Success   bool
	Signature string // empty when nothing was submitted
	Error     string // empty on success
	Err       error  `json:"-"`

	Stage       SwapStage   // terminal stage
	FailedAt    SwapStage   // stage in which the failure happened, empty on success
	Attempts    int         // submission attempts made
	Warnings    []string    // non-fatal conditions, e.g. high price impact
	Transitions []SwapStage // every stage visited, in order

	InAmount  decimal.Decimal // input amount in token units
	OutAmount decimal.Decimal // quoted output amount in token units
}

// FailedResult builds a failed SwapResult for err.
func FailedResult(stage SwapStage, err error) SwapResult {
	return SwapResult{
		Success:  false,
		Error:    err.Error(),
		Err:      err,
		Stage:    StageFailed,
		FailedAt: stage,
	}
}
