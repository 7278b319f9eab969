package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a logged swap.
type TransactionKind string

const (
	TransactionBuy  TransactionKind = "BUY"
	TransactionSell TransactionKind = "SELL"
)

// TransactionStatus is the final status of a logged swap.
type TransactionStatus string

const (
	TransactionConfirmed TransactionStatus = "CONFIRMED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// TransactionRecord is an entry of the append-only transaction log keyed by wallet.
type TransactionRecord struct {
	ID            string // deterministic hash of (wallet, signature, symbol, created_at)
	WalletAddress string
	PortfolioID   string
	Signature     string // empty for failures that never reached the ledger
	Kind          TransactionKind
	Symbol        string // the xStock leg of the swap
	InputAddress  string
	OutputAddress string
	InputAmount   decimal.Decimal
	OutputAmount  decimal.Decimal
	Price         decimal.Decimal // quote units per token
	Status        TransactionStatus
	Error         string
	CreatedAt     time.Time
}

// PortfolioSnapshot is a valuation point written to the analytics store.
type PortfolioSnapshot struct {
	PortfolioID     string
	WalletAddress   string
	TimestampMs     int64
	RiskLevel       int
	TotalValue      float64
	PnlAbs          float64
	PnlPct          float64
	PositionCount   int
	MaxDrift        float64
	PartiallyPriced bool
}
