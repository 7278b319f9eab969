package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Prices is the partial result of a price lookup.
// An address is either priced or missing with a reason; absent is never zero.
type Prices struct {
	values  map[string]decimal.Decimal
	missing map[string]error
}

// NewPrices creates an empty result.
func NewPrices() *Prices {
	return &Prices{
		values:  make(map[string]decimal.Decimal),
		missing: make(map[string]error),
	}
}

// Get returns the price for address. ok is false when it is missing.
func (p *Prices) Get(address string) (decimal.Decimal, bool) {
	v, ok := p.values[address]
	return v, ok
}

// Set records a price and clears any missing reason for address.
func (p *Prices) Set(address string, price decimal.Decimal) {
	p.values[address] = price
	delete(p.missing, address)
}

// MarkMissing records why address has no price. A priced address stays priced.
func (p *Prices) MarkMissing(address string, reason error) {
	if _, ok := p.values[address]; ok {
		return
	}
	p.missing[address] = reason
}

// Missing returns the unpriced addresses, sorted.
func (p *Prices) Missing() []string {
	out := make([]string, 0, len(p.missing))
	for a := range p.missing {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Reason returns why address is missing, or nil.
func (p *Prices) Reason(address string) error {
	return p.missing[address]
}

// Len returns the number of priced addresses.
func (p *Prices) Len() int {
	return len(p.values)
}

// Map returns a copy of the priced addresses.
func (p *Prices) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into p.
func (p *Prices) Merge(other *Prices) {
	for a, v := range other.values {
		p.Set(a, v)
	}
	for a, r := range other.missing {
		p.MarkMissing(a, r)
	}
}
