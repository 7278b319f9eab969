// Package jupiter is an HTTP client for the Jupiter price and swap APIs.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
)

// Default configuration values.
const (
	DefaultSwapURL    = "https://quote-api.jup.ag/v6"
	DefaultPriceURL   = "https://lite-api.jup.ag/price/v3"
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second

	// MaxPriceIDs is the upstream limit of mints per price request.
	MaxPriceIDs = 100
)

// Error codes Jupiter returns when no route exists for a pair.
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
}

// Client talks to the Jupiter API over HTTP.
type Client struct {
	swapURL    string
	priceURL   string
	apiKey     string
	client     *http.Client
	maxRetries int
	backoff    []backoff.ExponentialBackOffOpts
	logger     *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithSwapURL sets the quote/swap API base URL.
func WithSwapURL(u string) ClientOption {
	return func(c *Client) { c.swapURL = strings.TrimRight(u, "/") }
}

// WithPriceURL sets the price API URL.
func WithPriceURL(u string) ClientOption {
	return func(c *Client) { c.priceURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sets the x-api-key header on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.client.Timeout = d }
}

// WithMaxRetries sets maximum retry attempts for retryable responses.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the first backoff interval.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = append(c.backoff, backoff.WithInitialInterval(d)) }
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new Jupiter client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		swapURL:    DefaultSwapURL,
		priceURL:   DefaultPriceURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		backoff: []backoff.ExponentialBackOffOpts{
			backoff.WithInitialInterval(DefaultRetryDelay),
			backoff.WithMaxInterval(DefaultMaxDelay),
			backoff.WithMaxElapsedTime(0),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-retryable error response.
type APIError struct {
	Status  int
	Code    string `json:"errorCode"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("jupiter %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("jupiter %d: %s", e.Status, e.Message)
}

// Is maps no-route codes onto domain.ErrNoRouteFound.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrNoRouteFound && (noRouteCodes[e.Code] || isNoRouteMessage(e.Message))
}

func isNoRouteMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no route") || strings.Contains(m, "could not find any route")
}

// retryable marks a failed attempt that another attempt may fix.
type retryable struct{ error }

func (r retryable) Unwrap() error { return r.error }

// do performs an HTTP request with exponential backoff. Network errors, 429
// and 5xx are retried; other statuses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
	}

	var respBody []byte
	attempt := func() error {
		b, err := c.roundTrip(ctx, method, endpoint, body)
		switch {
		case err == nil:
			respBody = b
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, new(retryable)):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug("retrying jupiter request",
			zap.String("endpoint", endpoint),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	retries := uint64(max(c.maxRetries, 0))
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(c.backoff...), retries), ctx)
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		var r retryable
		if errors.As(err, &r) {
			return errors.Wrap(r.error, "max retries exceeded")
		}
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "unmarshal response")
		}
	}
	return nil
}

// roundTrip sends one request and returns the body of a 200 reply.
func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retryable{errors.Wrap(err, "http request")}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable{errors.Wrap(err, "read response")}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryable{errors.New("rate limited (429)")}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, retryable{errors.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody))}
	case resp.StatusCode != http.StatusOK:
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = truncate(respBody)
		}
		return nil, apiErr
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func (c *Client) priceEndpoint(ids []string) string {
	return c.priceURL + "?ids=" + url.QueryEscape(strings.Join(ids, ","))
}
