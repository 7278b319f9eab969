// Package stub provides an in-memory swap aggregator for tests and demo mode.
package stub

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/jupiter"
	"xstock-portfolio/internal/solana"
)

type listing struct {
	decimals int32
	price    decimal.Decimal
}

// Aggregator quotes at fixed USD prices and builds minimal unsigned transactions.
type Aggregator struct {
	mu       sync.Mutex
	listings map[string]listing

	// NoRoute lists mints that cannot be routed on either side.
	NoRoute map[string]bool
	// PriceImpact maps an output mint to the reported impact in percent.
	PriceImpact map[string]float64
	// BuildErr is returned by BuildSwapTransaction when set.
	BuildErr error

	quotes int
	builds int
}

// NewAggregator creates an empty stub aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		listings:    make(map[string]listing),
		NoRoute:     make(map[string]bool),
		PriceImpact: make(map[string]float64),
	}
}

// List registers a mint with its decimals and USD price.
func (a *Aggregator) List(mint string, decimals int32, usdPrice decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listings[mint] = listing{decimals: decimals, price: usdPrice}
}

// Prices returns the USD price of every listed mint. Unlisted mints are absent.
func (a *Aggregator) Prices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(mints))
	for _, m := range mints {
		if l, ok := a.listings[m]; ok {
			out[m] = l.price
		}
	}
	return out, nil
}

// Quote converts req.Amount at the listed prices.
func (a *Aggregator) Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes++

	in, inOK := a.listings[req.InputMint]
	out, outOK := a.listings[req.OutputMint]
	if !inOK || !outOK || !in.price.IsPositive() || !out.price.IsPositive() || a.NoRoute[req.InputMint] || a.NoRoute[req.OutputMint] {
		return nil, &jupiter.APIError{
			Status:  http.StatusBadRequest,
			Code:    "COULD_NOT_FIND_ANY_ROUTE",
			Message: "Could not find any route",
		}
	}

	inAmount := decimal.NewFromBigInt(new(big.Int).SetUint64(req.Amount), 0)
	outAmount := inAmount.Shift(-in.decimals).Mul(in.price).Div(out.price).Shift(out.decimals).Floor()
	minOut := outAmount.Mul(decimal.NewFromInt(int64(10_000 - req.SlippageBps))).Div(decimal.NewFromInt(10_000)).Floor()

	return &jupiter.Quote{
		InputMint:            req.InputMint,
		OutputMint:           req.OutputMint,
		InAmount:             inAmount,
		OutAmount:            outAmount,
		OtherAmountThreshold: minOut,
		SlippageBps:          req.SlippageBps,
		PriceImpactPct:       a.PriceImpact[req.OutputMint],
		RouteLabels:          []string{"stub"},
		Raw:                  []byte(`{}`),
	}, nil
}

// BuildSwapTransaction returns an unsigned single-signer transaction paid by userPubkey.
func (a *Aggregator) BuildSwapTransaction(ctx context.Context, _ *jupiter.Quote, userPubkey string, _ jupiter.SwapOptions) (*jupiter.SwapTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builds++

	if a.BuildErr != nil {
		return nil, a.BuildErr
	}

	payer, err := solana.DecodePublicKey(userPubkey)
	if err != nil {
		return nil, fmt.Errorf("stub: %w", err)
	}

	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(a.builds))
	blockhash := sha256.Sum256(append([]byte("stub-build:"), seed[:]...))

	msg := []byte{1, 0, 0, 1} // header, one account key
	msg = append(msg, payer...)
	msg = append(msg, blockhash[:]...)
	msg = append(msg, 0) // instructions

	tx := []byte{1}
	tx = append(tx, make([]byte, 64)...)
	tx = append(tx, msg...)

	return &jupiter.SwapTransaction{Transaction: tx, LastValidBlockHeight: 1_000_150}, nil
}

// QuoteCount returns the number of Quote calls.
func (a *Aggregator) QuoteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quotes
}

// BuildCount returns the number of BuildSwapTransaction calls.
func (a *Aggregator) BuildCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builds
}
