// Package stub provides an in-memory Solana ledger for tests and demo mode.
package stub

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"xstock-portfolio/internal/solana"
)

// RPCClient implements solana.RPCClient in memory.
type RPCClient struct {
	mu sync.Mutex

	// ConfirmOnSend marks every accepted transaction confirmed immediately.
	ConfirmOnSend bool

	// SendErrors are returned by successive SendTransaction calls before any succeeds.
	SendErrors []error

	// Statuses holds signature statuses returned by GetSignatureStatuses.
	Statuses map[string]*solana.SignatureStatus

	// Balances maps token account address to balance.
	Balances map[string]*solana.TokenAmount

	// Submitted records every transaction passed to SendTransaction, including rejected ones.
	Submitted [][]byte

	blockhashes int
	slot        int64
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Statuses: make(map[string]*solana.SignatureStatus),
		Balances: make(map[string]*solana.TokenAmount),
		slot:     1000,
	}
}

// GetLatestBlockhash returns a new deterministic blockhash on every call.
func (c *RPCClient) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockhashes++
	c.slot++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(c.blockhashes))
	h := sha256.Sum256(seed[:])

	return &solana.Blockhash{
		Blockhash:            base58.Encode(h[:]),
		LastValidBlockHeight: uint64(c.slot + 150),
	}, nil
}

// BlockhashCount returns how many blockhashes were handed out.
func (c *RPCClient) BlockhashCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockhashes
}

// SendTransaction records tx and returns its first signature.
func (c *RPCClient) SendTransaction(_ context.Context, tx []byte, _ solana.SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Submitted = append(c.Submitted, append([]byte(nil), tx...))

	if len(c.SendErrors) > 0 {
		err := c.SendErrors[0]
		c.SendErrors = c.SendErrors[1:]
		return "", err
	}

	sig, err := solana.SignatureOf(tx)
	if err != nil {
		return "", fmt.Errorf("stub: %w", err)
	}

	if c.ConfirmOnSend {
		c.slot++
		c.Statuses[sig] = &solana.SignatureStatus{
			Slot:               c.slot,
			ConfirmationStatus: solana.CommitmentConfirmed,
		}
	}
	return sig, nil
}

// SubmitCount returns the number of SendTransaction calls.
func (c *RPCClient) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}

// SetStatus sets the status of a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// GetSignatureStatuses returns stored statuses, nil for unknown signatures.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		if st, ok := c.Statuses[s]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// SetBalance sets the balance of a token account.
func (c *RPCClient) SetBalance(account, amount string, decimals int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[account] = &solana.TokenAmount{Amount: amount, Decimals: decimals}
}

// GetTokenAccountBalance returns the stored balance or solana.ErrAccountNotFound.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, account string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bal, ok := c.Balances[account]
	if !ok {
		return nil, fmt.Errorf("%s: %w", account, solana.ErrAccountNotFound)
	}
	cp := *bal
	return &cp, nil
}
