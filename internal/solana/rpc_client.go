package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"xstock-portfolio/internal/observability"
)

// HTTP client defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 8 * time.Second
)

// HTTPOptions tunes HTTPClient. Zero fields take the defaults.
type HTTPOptions struct {
	Timeout time.Duration
	// MaxRetries counts transport-level retries after the first attempt.
	// Negative disables retries.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// RequestsPerSec caps outgoing calls. Zero means unlimited.
	RequestsPerSec float64
	// Client replaces the default http.Client; Timeout is then ignored.
	Client *http.Client
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(DefaultMaxRetryDelay, o.RetryDelay)
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// HTTPClient talks JSON-RPC 2.0 to a Solana node. Transport failures, 429 and
// 5xx replies are retried with exponential backoff. JSON-RPC errors are
// returned as *RPCError without retry; callers classify them with IsTransient.
type HTTPClient struct {
	endpoint  string
	opts      HTTPOptions
	limiter   *rate.Limiter
	requestID atomic.Uint64
}

var _ RPCClient = (*HTTPClient)(nil)

// NewHTTPClient returns a client for endpoint.
func NewHTTPClient(endpoint string, opts HTTPOptions) *HTTPClient {
	opts = opts.withDefaults()
	c := &HTTPClient{endpoint: endpoint, opts: opts}
	if opts.RequestsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// retryable marks a failure of one HTTP round trip that another attempt may fix.
type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

func (c *HTTPClient) call(ctx context.Context, method string, params []any, result any) error {
	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.requestID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	var resp *rpcResponse
	attempt := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		r, err := c.roundTrip(ctx, body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			var rt *retryable
			if !errors.As(err, &rt) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryDelay
	b.MaxInterval = c.opts.MaxRetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries)), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		var rt *retryable
		if errors.As(err, &rt) {
			return fmt.Errorf("%s: %w: %w", method, ErrMaxRetries, rt.err)
		}
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// roundTrip posts one request. Failures worth another attempt come back as *retryable.
func (c *HTTPClient) roundTrip(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.opts.Client.Do(req)
	if err != nil {
		return nil, &retryable{err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &retryable{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryable{errors.New("rate limited (429)")}
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return nil, &retryable{fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(payload)))}
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &retryable{fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}

// withContext is the {context, value} wrapper of most ledger reads.
type withContext[T any] struct {
	Context struct {
		Slot int64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

// GetLatestBlockhash returns a recent blockhash at commitment, confirmed by default.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error) {
	if commitment == "" {
		commitment = CommitmentConfirmed
	}

	var out withContext[Blockhash]
	if err := c.call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": commitment}}, &out); err != nil {
		return nil, err
	}
	if out.Value.Blockhash == "" {
		return nil, errors.New("getLatestBlockhash: empty blockhash")
	}
	return &out.Value, nil
}

// SendTransaction submits a signed wire transaction and returns its signature.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx []byte, opts SendOptions) (string, error) {
	cfg := map[string]any{
		"encoding":      "base64",
		"skipPreflight": opts.SkipPreflight,
		"maxRetries":    opts.MaxRetries,
	}
	if opts.PreflightCommitment != "" {
		cfg["preflightCommitment"] = opts.PreflightCommitment
	}

	var signature string
	if err := c.call(ctx, "sendTransaction", []any{base64.StdEncoding.EncodeToString(tx), cfg}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSignatureStatuses returns statuses in request order; unknown signatures are nil.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	params := []any{signatures, map[string]any{"searchTransactionHistory": false}}

	var out withContext[[]*SignatureStatus]
	if err := c.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(signatures))
	copy(statuses, out.Value)
	return statuses, nil
}

// GetTokenAccountBalance returns the balance of an SPL token account.
func (c *HTTPClient) GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error) {
	params := []any{account, map[string]any{"commitment": CommitmentConfirmed}}

	var out withContext[*TokenAmount]
	err := c.call(ctx, "getTokenAccountBalance", params, &out)
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr) && rpcErr.Code == codeInvalidParams &&
		strings.Contains(strings.ToLower(rpcErr.Message), "could not find account"):
		return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	case err != nil:
		return nil, err
	case out.Value == nil:
		return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	}
	return out.Value, nil
}
