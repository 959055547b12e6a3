package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/metrics"
	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// Cache persists resolved prices between batches. Implementations include
// Redis and in-memory (for testing).
type Cache interface {
	// GetMany returns the cached prices for the given overlay keys. Keys
	// with no cached value are simply absent from the result.
	GetMany(ctx context.Context, keys []string) (map[string]decimal.Decimal, error)

	// PutMany upserts resolved prices back into the cache.
	PutMany(ctx context.Context, values map[string]decimal.Decimal) error
}

// Resolver builds market price overlays: check the cache for every requested
// key, batch-fetch only the missing keys from the upstream provider, upsert
// the fetched values, and return the merged map.
//
// The resolver is injected, never a module-level singleton, so concurrent
// replay passes do not contend on shared state and tests can swap it out.
type Resolver struct {
	cache    Cache
	handlers []Handler
}

// NewResolver creates a resolver over the given cache and handler registry.
// Handlers are probed in the order given.
func NewResolver(cache Cache, handlers ...Handler) *Resolver {
	return &Resolver{cache: cache, handlers: handlers}
}

// Resolve returns the market overlay for the given positions across
// [from, to]. Cache failures degrade to upstream fetches; provider failures
// are returned so the caller can distinguish a missing price from an
// unreachable feed.
func (r *Resolver) Resolve(ctx context.Context, positions []model.Position, from, to time.Time) (Overlay, error) {
	days := Days(from, to)
	if len(days) == 0 {
		return Overlay{}, nil
	}

	// Probe handlers in order; the first that collects requests for a
	// position claims it.
	reqsByHandler := make(map[Handler][]Request)
	var keys []string
	for _, pos := range positions {
		for _, h := range r.handlers {
			reqs := h.Collect(pos, days)
			if reqs == nil {
				continue
			}
			reqsByHandler[h] = append(reqsByHandler[h], reqs...)
			for _, req := range reqs {
				keys = append(keys, req.Key())
			}
			break
		}
	}
	if len(keys) == 0 {
		return Overlay{}, nil
	}

	cached, err := r.cache.GetMany(ctx, keys)
	if err != nil {
		// A dead cache is not fatal: fall through to the provider.
		slog.Warn("price cache read failed", "err", err, "keys", len(keys))
		cached = map[string]decimal.Decimal{}
	}
	metrics.OverlayCacheHits.Add(float64(len(cached)))
	metrics.OverlayCacheMisses.Add(float64(len(keys) - len(cached)))

	overlay := make(Overlay, len(keys))
	for k, v := range cached {
		overlay[k] = v
	}

	fetched := make(map[string]decimal.Decimal)
	for h, reqs := range reqsByHandler {
		missing := reqs[:0:0]
		for _, req := range reqs {
			if _, ok := cached[req.Key()]; !ok {
				missing = append(missing, req)
			}
		}
		if len(missing) == 0 {
			continue
		}

		start := time.Now()
		prices, err := h.Fetch(ctx, missing)
		metrics.ProviderFetchDuration.WithLabelValues(h.Kind()).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		for k, v := range prices {
			overlay[k] = v
			fetched[k] = v
		}
	}

	if len(fetched) > 0 {
		if err := r.cache.PutMany(ctx, fetched); err != nil {
			slog.Warn("price cache write failed", "err", err, "keys", len(fetched))
		}
	}
	return overlay, nil
}
