package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// Provider is an upstream price feed. Implementations batch-fetch prices for
// many (ref, day) pairs in one call; per-day queries inside the synthesizer
// are never allowed.
type Provider interface {
	// FetchBatch returns prices keyed by Request.Key(). Missing entries are
	// not an error: a provider may simply have no price for a given day.
	FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error)
}

// Handler serves one price-source kind (symbol quotes, alternative-asset
// valuations). Handlers are probed in registration order per position; the
// first whose Collect returns requests claims it.
type Handler interface {
	// Kind names the price-source kind this handler serves.
	Kind() string

	// Collect returns the requests this handler would issue for the given
	// position over the given days, or nil if the position is not its kind.
	Collect(pos model.Position, days []time.Time) []Request

	// Fetch batch-fetches prices for requests this handler collected,
	// keyed by Request.Key().
	Fetch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error)
}

// providerHandler is the common handler shape: a kind tag plus the upstream
// provider that fulfils its requests. Symbol and alternative-asset handlers
// differ only in kind and provider.
type providerHandler struct {
	kind     string
	provider Provider
}

// NewHandler builds a handler for one price-source kind backed by the given
// provider.
func NewHandler(kind string, provider Provider) Handler {
	return &providerHandler{kind: kind, provider: provider}
}

func (h *providerHandler) Kind() string { return h.kind }

func (h *providerHandler) Collect(pos model.Position, days []time.Time) []Request {
	if pos.PriceSourceKind != h.kind || pos.PriceSourceRef == "" {
		return nil
	}
	reqs := make([]Request, 0, len(days))
	for _, day := range days {
		reqs = append(reqs, Request{
			PositionID: pos.ID,
			Ref:        pos.PriceSourceRef,
			Currency:   pos.Currency,
			Day:        day,
		})
	}
	return reqs
}

func (h *providerHandler) Fetch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	return h.provider.FetchBatch(ctx, reqs)
}
