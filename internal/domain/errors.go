package domain

import "errors"

// Portfolio management errors.
// Every layer returns (or wraps) these so callers can branch with errors.Is.
var (
	// ErrInvalidRiskLevel is returned when a risk level is outside [1, 10].
	ErrInvalidRiskLevel = errors.New("invalid risk level")

	// ErrNoValidAllocations is returned when no allocation survives filtering.
	ErrNoValidAllocations = errors.New("no valid allocations")

	// ErrNoRouteFound is returned when the aggregator has no route for a pair.
	ErrNoRouteFound = errors.New("no route found")

	// ErrPriceImpactTooHigh is a warning-level error: the quote is still usable
	// at the caller's discretion.
	ErrPriceImpactTooHigh = errors.New("price impact too high")

	// ErrSigningRejected is returned when the signing capability refuses to sign.
	ErrSigningRejected = errors.New("signing rejected")

	// ErrSubmissionFailed is returned when submission failed after all retries.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrConfirmationTimeout is terminal for a swap attempt; it is never retried.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrTransactionFailed is returned when the ledger reports an execution error.
	ErrTransactionFailed = errors.New("transaction failed on ledger")

	// ErrPartialPortfolioFailure is returned when some, but not all, swaps succeeded.
	ErrPartialPortfolioFailure = errors.New("partial portfolio failure")

	// ErrTotalFailure is returned when no swap succeeded and no capital was deployed.
	ErrTotalFailure = errors.New("total portfolio failure")

	// ErrPricingUnavailable marks an asset whose price could not be fetched.
	ErrPricingUnavailable = errors.New("pricing unavailable")

	// ErrUnknownAsset is returned for symbols or addresses outside the universe.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrInsufficientPosition is returned when selling more than is held.
	ErrInsufficientPosition = errors.New("insufficient position")
)
