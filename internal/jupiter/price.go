package jupiter

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type priceEntry struct {
	USDPrice decimal.Decimal `json:"usdPrice"`
	Decimals int             `json:"decimals"`
}

// Prices returns USD prices for up to MaxPriceIDs mints.
// Mints the service does not know are absent from the result.
func (c *Client) Prices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	if len(mints) > MaxPriceIDs {
		return nil, errors.Errorf("%d mints exceeds price batch limit %d", len(mints), MaxPriceIDs)
	}

	var raw map[string]*priceEntry
	if err := c.do(ctx, http.MethodGet, c.priceEndpoint(mints), nil, &raw); err != nil {
		return nil, errors.Wrap(err, "fetch prices")
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for mint, e := range raw {
		// Null entries and non-positive prices mean the service has no price.
		if e == nil || !e.USDPrice.IsPositive() {
			continue
		}
		out[mint] = e.USDPrice
	}
	return out, nil
}
