package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// QuoteRequest asks for a route swapping Amount base units of InputMint into OutputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64 // base units of the input mint
	SlippageBps int
}

// Quote is a route returned by the aggregator.
// Raw keeps the upstream payload so it can be echoed back to the swap endpoint.
type Quote struct {
	InputMint            string
	OutputMint           string
	InAmount             decimal.Decimal // base units
	OutAmount            decimal.Decimal // base units
	OtherAmountThreshold decimal.Decimal // minimum out after slippage, base units
	SlippageBps          int
	PriceImpactPct       float64 // percent, e.g. 1.5 means 1.5%
	RouteLabels          []string
	Raw                  json.RawMessage
}

type quoteResponse struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             decimal.Decimal `json:"inAmount"`
	OutAmount            decimal.Decimal `json:"outAmount"`
	OtherAmountThreshold decimal.Decimal `json:"otherAmountThreshold"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// Quote requests a swap route. A missing route is reported as an error matching
// domain.ErrNoRouteFound.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Amount == 0 {
		return nil, errors.New("quote amount must be positive")
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("swapMode", "ExactIn")

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.swapURL+"/quote?"+q.Encode(), nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "quote %s -> %s", req.InputMint, req.OutputMint)
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode quote")
	}

	// The API reports price impact as a fraction.
	impact := 0.0
	if resp.PriceImpactPct != "" {
		f, err := strconv.ParseFloat(resp.PriceImpactPct, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse priceImpactPct %q", resp.PriceImpactPct)
		}
		impact = f * 100
	}

	labels := make([]string, 0, len(resp.RoutePlan))
	for _, step := range resp.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}

	return &Quote{
		InputMint:            resp.InputMint,
		OutputMint:           resp.OutputMint,
		InAmount:             resp.InAmount,
		OutAmount:            resp.OutAmount,
		OtherAmountThreshold: resp.OtherAmountThreshold,
		SlippageBps:          resp.SlippageBps,
		PriceImpactPct:       impact,
		RouteLabels:          labels,
		Raw:                  raw,
	}, nil
}
