// Package signer provides the signing capability used to authorize swaps.
// Key material stays behind this interface; the executor only sees signed bytes.
package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"

	"xstock-portfolio/internal/solana"
)

// Signer signs serialized transactions on behalf of one wallet.
// A user rejection is reported as (or wraps) domain.ErrSigningRejected.
type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, tx []byte) ([]byte, error)
}

// KeypairSigner signs with a local ed25519 keypair.
type KeypairSigner struct {
	key    ed25519.PrivateKey
	pubkey string
}

var _ Signer = (*KeypairSigner)(nil)

// NewKeypairSigner wraps an ed25519 private key.
func NewKeypairSigner(key ed25519.PrivateKey) (*KeypairSigner, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	pub := key.Public().(ed25519.PublicKey)
	return &KeypairSigner{key: key, pubkey: base58.Encode(pub)}, nil
}

// LoadKeypair reads a keypair file in the Solana CLI format (JSON array of 64 bytes).
func LoadKeypair(path string) (*KeypairSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}

	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, v)
		}
		raw = append(raw, byte(v))
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %s has %d bytes, want %d", path, len(raw), ed25519.PrivateKeySize)
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, fmt.Errorf("keypair %s: public key does not match seed", path)
	}
	return NewKeypairSigner(key)
}

// PublicKey returns the base58 public key.
func (s *KeypairSigner) PublicKey() string {
	return s.pubkey
}

// Sign fills this wallet's signature slot in tx.
func (s *KeypairSigner) Sign(ctx context.Context, tx []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SignWith(s.key, s.pubkey, tx)
}

// SignWith signs the message of tx with key and places the signature in signer's slot.
func SignWith(key ed25519.PrivateKey, pubkey string, tx []byte) ([]byte, error) {
	wire, err := solana.ParseTransaction(tx)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(key, wire.Message)
	if err := wire.SetSignature(pubkey, sig); err != nil {
		return nil, err
	}
	return wire.Serialize(), nil
}
