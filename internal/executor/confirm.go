package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/solana"
)

// Confirmer waits until a submitted signature reaches the wanted commitment.
// It returns nil on confirmation, an error wrapping domain.ErrTransactionFailed
// when the ledger reports an execution error, and ctx.Err() when ctx ends first.
type Confirmer interface {
	Confirm(ctx context.Context, signature string) error
}

// DefaultPollInterval is the status polling cadence.
const DefaultPollInterval = 2 * time.Second

// PollingConfirmer confirms by polling getSignatureStatuses.
type PollingConfirmer struct {
	rpc        solana.RPCClient
	interval   time.Duration
	commitment solana.Commitment
	logger     *zap.Logger
}

var _ Confirmer = (*PollingConfirmer)(nil)

// NewPollingConfirmer creates a polling confirmer. Zero values take defaults.
func NewPollingConfirmer(rpc solana.RPCClient, interval time.Duration, commitment solana.Commitment, logger *zap.Logger) *PollingConfirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingConfirmer{rpc: rpc, interval: interval, commitment: commitment, logger: logger}
}

// Confirm polls until the signature is confirmed, fails, or ctx ends.
func (c *PollingConfirmer) Confirm(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		done, err := c.check(ctx, signature)
		if done {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *PollingConfirmer) check(ctx context.Context, signature string) (bool, error) {
	statuses, err := c.rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		// Status lookups are read-only; keep polling until the deadline.
		c.logger.Debug("signature status lookup failed",
			zap.String("signature", signature), zap.Error(err))
		return false, nil
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}

	st := statuses[0]
	if st.Failed() {
		return true, fmt.Errorf("%s: %v: %w", signature, st.Err, domain.ErrTransactionFailed)
	}
	if st.ConfirmationStatus.Reached(c.commitment) {
		return true, nil
	}
	return false, nil
}

// WSConfirmer confirms through a signatureSubscribe subscription.
type WSConfirmer struct {
	ws         solana.WSClient
	commitment solana.Commitment
}

var _ Confirmer = (*WSConfirmer)(nil)

// NewWSConfirmer creates a subscription-based confirmer.
func NewWSConfirmer(ws solana.WSClient, commitment solana.Commitment) *WSConfirmer {
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}
	return &WSConfirmer{ws: ws, commitment: commitment}
}

// Confirm subscribes to the signature and waits for its single notification.
func (c *WSConfirmer) Confirm(ctx context.Context, signature string) error {
	ch, err := c.ws.SignatureSubscribe(ctx, signature, c.commitment)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", signature, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case n, ok := <-ch:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("subscription for %s closed without notification", signature)
		}
		if n.Err != nil {
			return fmt.Errorf("%s: %v: %w", signature, n.Err, domain.ErrTransactionFailed)
		}
		return nil
	}
}
