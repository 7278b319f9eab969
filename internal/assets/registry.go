// Package assets loads the static asset universe.
// The universe is read once at process start and never mutated afterwards.
package assets

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"xstock-portfolio/internal/domain"
)

// Token program IDs.
const (
	TokenProgram     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022Program = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

//go:embed universe.yaml
var defaultUniverse []byte

type universeFile struct {
	Quote  assetEntry   `yaml:"quote"`
	Assets []assetEntry `yaml:"assets"`
}

type assetEntry struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
	Program  string `yaml:"program,omitempty"`
}

// Registry is an immutable lookup over the asset universe.
type Registry struct {
	quote     domain.Asset
	bySymbol  map[string]domain.Asset
	byAddress map[string]domain.Asset
	symbols   []string
}

// Default returns the registry built from the embedded universe.
func Default() (*Registry, error) {
	return Parse(defaultUniverse)
}

// Load reads a universe file from path. An empty path yields the embedded default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML. Every address must be a 32-byte base58 key,
// and symbols and addresses must be unique.
func Parse(data []byte) (*Registry, error) {
	var f universeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}

	quote, err := f.Quote.toAsset(TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("quote asset: %w", err)
	}

	r := &Registry{
		quote:     quote,
		bySymbol:  map[string]domain.Asset{quote.Symbol: quote},
		byAddress: map[string]domain.Asset{quote.Address: quote},
	}

	for _, e := range f.Assets {
		a, err := e.toAsset(Token2022Program)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", e.Symbol, err)
		}
		if _, dup := r.bySymbol[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol %s", a.Symbol)
		}
		if _, dup := r.byAddress[a.Address]; dup {
			return nil, fmt.Errorf("duplicate address %s", a.Address)
		}
		r.bySymbol[a.Symbol] = a
		r.byAddress[a.Address] = a
		r.symbols = append(r.symbols, a.Symbol)
	}
	sort.Strings(r.symbols)

	if len(r.symbols) == 0 {
		return nil, fmt.Errorf("universe has no tradable assets")
	}
	return r, nil
}

func (e assetEntry) toAsset(defaultProgram string) (domain.Asset, error) {
	if e.Symbol == "" {
		return domain.Asset{}, fmt.Errorf("missing symbol")
	}
	if err := ValidateAddress(e.Address); err != nil {
		return domain.Asset{}, err
	}
	if e.Decimals < 0 || e.Decimals > 18 {
		return domain.Asset{}, fmt.Errorf("decimals %d out of range", e.Decimals)
	}
	program := e.Program
	if program == "" {
		program = defaultProgram
	}
	return domain.Asset{
		Symbol:   e.Symbol,
		Name:     e.Name,
		Address:  e.Address,
		Decimals: e.Decimals,
		Program:  program,
	}, nil
}

// ValidateAddress checks that s is a base58-encoded 32-byte public key.
func ValidateAddress(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("address %q is not base58: %w", s, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address %q decodes to %d bytes, want 32", s, len(raw))
	}
	return nil
}

// Quote returns the quote asset.
func (r *Registry) Quote() domain.Asset {
	return r.quote
}

// BySymbol looks up an asset (including the quote asset) by symbol.
func (r *Registry) BySymbol(symbol string) (domain.Asset, bool) {
	a, ok := r.bySymbol[symbol]
	return a, ok
}

// ByAddress looks up an asset (including the quote asset) by mint address.
func (r *Registry) ByAddress(address string) (domain.Asset, bool) {
	a, ok := r.byAddress[address]
	return a, ok
}

// Symbols returns the tradable (non-quote) symbols, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Addresses returns the mint addresses of the tradable assets, in symbol order.
func (r *Registry) Addresses() []string {
	out := make([]string, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.bySymbol[s].Address)
	}
	return out
}
