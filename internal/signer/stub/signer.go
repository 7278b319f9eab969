// Package stub provides a deterministic signer for tests and demo mode.
package stub

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sync"

	"github.com/mr-tron/base58"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/signer"
)

// Signer signs with a key derived from a name. It can be told to reject.
type Signer struct {
	mu     sync.Mutex
	key    ed25519.PrivateKey
	pubkey string

	// Reject makes every Sign call fail with domain.ErrSigningRejected.
	Reject bool

	calls int
}

var _ signer.Signer = (*Signer)(nil)

// New creates a stub signer whose key is derived from name.
func New(name string) *Signer {
	seed := sha256.Sum256([]byte("stub-signer:" + name))
	key := ed25519.NewKeyFromSeed(seed[:])
	return &Signer{
		key:    key,
		pubkey: base58.Encode(key.Public().(ed25519.PublicKey)),
	}
}

// PublicKey returns the base58 public key.
func (s *Signer) PublicKey() string {
	return s.pubkey
}

// Sign signs tx unless Reject is set.
func (s *Signer) Sign(ctx context.Context, tx []byte) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	reject := s.Reject
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reject {
		return nil, domain.ErrSigningRejected
	}
	return signer.SignWith(s.key, s.pubkey, tx)
}

// Calls returns the number of Sign calls.
func (s *Signer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
