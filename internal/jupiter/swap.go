package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// SwapOptions tune the transaction the aggregator builds.
type SwapOptions struct {
	WrapAndUnwrapSOL          bool
	DynamicComputeUnitLimit   bool
	PrioritizationFeeLamports uint64 // 0 lets the aggregator pick
}

// SwapTransaction is an unsigned serialized transaction.
type SwapTransaction struct {
	Transaction          []byte
	LastValidBlockHeight uint64
	PrioritizationFee    uint64
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSOL          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports interface{}     `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

// BuildSwapTransaction asks the aggregator for an unsigned transaction executing quote
// on behalf of userPubkey.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote *Quote, userPubkey string, opts SwapOptions) (*SwapTransaction, error) {
	if quote == nil || len(quote.Raw) == 0 {
		return nil, errors.New("swap requires a quote from Quote")
	}

	reqBody := swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           userPubkey,
		WrapAndUnwrapSOL:        opts.WrapAndUnwrapSOL,
		DynamicComputeUnitLimit: opts.DynamicComputeUnitLimit,
	}
	if opts.PrioritizationFeeLamports > 0 {
		reqBody.PrioritizationFeeLamports = opts.PrioritizationFeeLamports
	} else {
		reqBody.PrioritizationFeeLamports = "auto"
	}

	var resp swapResponse
	if err := c.do(ctx, http.MethodPost, c.swapURL+"/swap", reqBody, &resp); err != nil {
		return nil, errors.Wrap(err, "build swap transaction")
	}
	if resp.SwapTransaction == "" {
		return nil, errors.New("empty swap transaction")
	}

	tx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "decode swap transaction")
	}

	return &SwapTransaction{
		Transaction:          tx,
		LastValidBlockHeight: resp.LastValidBlockHeight,
		PrioritizationFee:    resp.PrioritizationFeeLamports,
	}, nil
}
