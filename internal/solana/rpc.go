package solana

import "context"

// RPCClient defines the Solana JSON-RPC calls used for swap submission and valuation.
type RPCClient interface {
	// GetLatestBlockhash returns a recent blockhash for signing.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error)

	// SendTransaction submits a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, tx []byte, opts SendOptions) (string, error)

	// GetSignatureStatuses returns the status of each signature, nil when unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetTokenAccountBalance returns the balance of an SPL token account.
	// Returns ErrAccountNotFound when the account does not exist.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)
}
