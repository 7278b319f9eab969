// Package pricing resolves current unit prices for asset addresses.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/observability"
)

// Default configuration values.
const (
	DefaultBatchSize       = 100
	DefaultRequestsPerSec  = 5
	DefaultBreakerFailures = 5
	DefaultBreakerOpenFor  = 30 * time.Second
	DefaultBreakerHalfOpen = 1
	DefaultBreakerInterval = time.Minute
	DefaultBreakerName     = "price-service"
)

// Gateway returns prices for a set of addresses. It never fails as a whole:
// addresses it cannot price are reported as missing.
type Gateway interface {
	GetPrices(ctx context.Context, addresses []string) *Prices
}

// Source is an upstream price service handling one batch per call.
type Source interface {
	Prices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error)
}

// BatchGateway splits requests into upstream-sized batches.
// Each batch passes a rate limiter and a circuit breaker; a failed batch
// marks its addresses missing with domain.ErrPricingUnavailable.
type BatchGateway struct {
	source    Source
	batchSize int
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// Options for creating BatchGateway.
type Options struct {
	BatchSize       int        // max addresses per upstream call, defaults to DefaultBatchSize
	RequestsPerSec  rate.Limit // upstream call rate, defaults to DefaultRequestsPerSec
	Burst           int
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerOpenFor  time.Duration // how long the breaker stays open
	Logger          *zap.Logger
}

// NewBatchGateway creates a new BatchGateway.
func NewBatchGateway(source Source, opts Options) *BatchGateway {
	if opts.BatchSize <= 0 || opts.BatchSize > DefaultBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = DefaultRequestsPerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = DefaultBreakerOpenFor
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger
	failures := opts.BreakerFailures
	settings := gobreaker.Settings{
		Name:        DefaultBreakerName,
		MaxRequests: DefaultBreakerHalfOpen,
		Interval:    DefaultBreakerInterval,
		Timeout:     opts.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("price breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BatchGateway{
		source:    source,
		batchSize: opts.BatchSize,
		limiter:   rate.NewLimiter(opts.RequestsPerSec, opts.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
	}
}

// GetPrices fetches prices for addresses. Duplicates are collapsed and batches are
// formed in sorted order, so the same input always produces the same upstream calls.
func (g *BatchGateway) GetPrices(ctx context.Context, addresses []string) *Prices {
	out := NewPrices()
	for _, batch := range Batches(addresses, g.batchSize) {
		g.fetchBatch(ctx, batch, out)
	}
	return out
}

func (g *BatchGateway) fetchBatch(ctx context.Context, batch []string, out *Prices) {
	if err := g.limiter.Wait(ctx); err != nil {
		g.markBatch(batch, out, err)
		return
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.source.Prices(ctx, batch)
	})
	if err != nil {
		g.logger.Warn("price batch failed",
			zap.Int("size", len(batch)),
			zap.Error(err))
		g.markBatch(batch, out, err)
		return
	}

	prices, _ := res.(map[string]decimal.Decimal)
	missing := 0
	for _, addr := range batch {
		if p, ok := prices[addr]; ok && p.IsPositive() {
			out.Set(addr, p)
			continue
		}
		out.MarkMissing(addr, fmt.Errorf("%s: no price returned: %w", addr, domain.ErrPricingUnavailable))
		missing++
	}
	observability.RecordPriceBatch(true, missing)
}

func (g *BatchGateway) markBatch(batch []string, out *Prices, cause error) {
	for _, addr := range batch {
		out.MarkMissing(addr, fmt.Errorf("%s: %w: %v", addr, domain.ErrPricingUnavailable, cause))
	}
	observability.RecordPriceBatch(false, len(batch))
}

// Batches deduplicates and sorts addresses, then splits them into chunks of at most size.
func Batches(addresses []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	uniq := uniqueSorted(addresses)

	var out [][]string
	for start := 0; start < len(uniq); start += size {
		end := start + size
		if end > len(uniq) {
			end = len(uniq)
		}
		out = append(out, uniq[start:end])
	}
	return out
}

func uniqueSorted(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	uniq := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		uniq = append(uniq, a)
	}
	sort.Strings(uniq)
	return uniq
}
