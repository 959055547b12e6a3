package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache implements Cache on Redis. Prices are stored as plain decimal
// strings under "price:<positionID|day>" with a TTL, so the cache is shared
// across instances without any invalidation protocol: entries simply expire.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed price cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) GetMany(ctx context.Context, keys []string) (map[string]decimal.Decimal, error) {
	if len(keys) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = priceKey(k)
	}
	vals, err := c.rdb.MGet(ctx, rkeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("price cache mget: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil = cache miss
		}
		price, err := decimal.NewFromString(s)
		if err != nil {
			continue // corrupt entry, treat as miss
		}
		out[keys[i]] = price
	}
	return out, nil
}

func (c *RedisCache) PutMany(ctx context.Context, values map[string]decimal.Decimal) error {
	if len(values) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, priceKey(k), v.String(), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("price cache pipeline: %w", err)
	}
	return nil
}

func priceKey(overlayKey string) string { return "price:" + overlayKey }
