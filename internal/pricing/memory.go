package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryCache implements Cache with an in-memory map. Used for testing and
// development; no expiry, no persistence.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewMemoryCache creates an empty in-memory price cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]decimal.Decimal)}
}

func (c *MemoryCache) GetMany(_ context.Context, keys []string) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(keys))
	for _, k := range keys {
		if v, ok := c.prices[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *MemoryCache) PutMany(_ context.Context, values map[string]decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.prices[k] = v
	}
	return nil
}

// Len reports the number of cached prices.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}
