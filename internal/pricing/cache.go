package pricing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xstock-portfolio/internal/observability"
)

// DefaultCacheTTL bounds how stale a cached price may be.
const DefaultCacheTTL = 15 * time.Second

const cacheKeyPrefix = "xstock:price:"

// CachedGateway is a read-through Redis cache in front of another Gateway.
// Cache errors fall through to the upstream; missing prices are never cached.
type CachedGateway struct {
	next   Gateway
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedGateway creates a new CachedGateway.
func NewCachedGateway(next Gateway, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedGateway {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGateway{next: next, client: client, ttl: ttl, logger: logger}
}

// GetPrices serves what it can from the cache and fetches the rest upstream.
func (c *CachedGateway) GetPrices(ctx context.Context, addresses []string) *Prices {
	uniq := uniqueSorted(addresses)
	out := NewPrices()
	if len(uniq) == 0 {
		return out
	}

	keys := make([]string, len(uniq))
	for i, a := range uniq {
		keys[i] = cacheKeyPrefix + a
	}

	var misses []string
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Debug("price cache read failed", zap.Error(err))
		misses = uniq
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				misses = append(misses, uniq[i])
				continue
			}
			p, err := decimal.NewFromString(s)
			if err != nil || !p.IsPositive() {
				misses = append(misses, uniq[i])
				continue
			}
			out.Set(uniq[i], p)
		}
	}
	observability.RecordPriceCache(len(uniq)-len(misses), len(misses))

	if len(misses) == 0 {
		return out
	}

	fresh := c.next.GetPrices(ctx, misses)
	out.Merge(fresh)

	if fresh.Len() > 0 {
		pipe := c.client.Pipeline()
		for addr, p := range fresh.Map() {
			pipe.Set(ctx, cacheKeyPrefix+addr, p.String(), c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Debug("price cache write failed", zap.Error(err))
		}
	}
	return out
}
