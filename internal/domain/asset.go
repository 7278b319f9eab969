package domain

// Asset is a token in the tradable universe.
// Identity is the ledger address (mint); assets are loaded once at startup and never mutated.
type Asset struct {
	Symbol   string // display symbol, e.g. "AAPLx"
	Name     string // human-readable name
	Address  string // base58 mint address
	Decimals int32  // token decimals for base-unit conversion
	Program  string // owning token program (SPL Token or Token-2022)
}

// Equal reports whether two assets share the same ledger address.
func (a Asset) Equal(other Asset) bool {
	return a.Address == other.Address
}
