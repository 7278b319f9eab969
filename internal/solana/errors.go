package solana

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Sentinel errors.
var (
	// ErrAccountNotFound is returned when a token account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrMaxRetries wraps the last error once the HTTP retry budget is spent.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// JSON-RPC error codes used for classification.
const (
	codeBlockNotAvailable  = -32004
	codeNodeUnhealthy      = -32005
	codeMinContextSlotMiss = -32016
	codeInvalidParams      = -32602
)

var transientMessages = []string{
	"blockhash not found",
	"block height exceeded",
	"transaction expired",
	"node is behind",
	"node is unhealthy",
	"too many requests",
	"rate limited",
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"service unavailable",
	"bad gateway",
}

// IsTransient reports whether err is a ledger-side condition worth resubmitting:
// expired or unknown blockhash, node lag, rate limits, 5xx and network timeouts.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeNodeUnhealthy, codeBlockNotAvailable, codeMinContextSlotMiss:
			return true
		}
	}

	if errors.Is(err, ErrMaxRetries) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
