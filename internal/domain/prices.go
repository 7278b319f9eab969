package domain

import "github.com/shopspring/decimal"

// PriceMap is a PriceLookup backed by a plain map keyed by address.
type PriceMap map[string]decimal.Decimal

// Get returns the price for address.
func (m PriceMap) Get(address string) (decimal.Decimal, bool) {
	p, ok := m[address]
	return p, ok
}
