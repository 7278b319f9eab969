package solana

import (
	"github.com/shopspring/decimal"
)

// Commitment is a ledger confirmation level.
type Commitment string

// Commitment levels.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Reached reports whether status c satisfies the wanted level.
func (c Commitment) Reached(want Commitment) bool {
	return commitmentRank(c) >= commitmentRank(want)
}

func commitmentRank(c Commitment) int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Blockhash from getLatestBlockhash.
type Blockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SendOptions for sendTransaction.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
	// MaxRetries is forwarded to the node. Zero disables node-side rebroadcast
	// so retries stay under caller control.
	MaxRetries uint
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64      `json:"slot"`
	Confirmations      *uint64    `json:"confirmations"` // nil once finalized
	Err                any        `json:"err"`
	ConfirmationStatus Commitment `json:"confirmationStatus"`
}

// Failed reports whether the transaction landed with an on-chain error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

// TokenAmount from getTokenAccountBalance.
type TokenAmount struct {
	Amount   string `json:"amount"` // raw base units
	Decimals int32  `json:"decimals"`
}

// UIAmount converts the raw amount into token units.
func (t *TokenAmount) UIAmount() (decimal.Decimal, error) {
	raw, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Shift(-t.Decimals), nil
}
