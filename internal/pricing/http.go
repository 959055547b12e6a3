package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// HTTPProvider fetches end-of-day prices from a JSON quote API. One call per
// batch: refs and the date range are sent together, and the response carries
// one price per (ref, day) the feed knows about.
//
// Expected response shape:
//
//	[{"ref": "VWCE", "date": "2024-03-01", "price": "101.25"}, ...]
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL. A nil
// client falls back to a 10s-timeout default.
func NewHTTPProvider(baseURL, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type quoteRow struct {
	Ref   string          `json:"ref"`
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

func (p *HTTPProvider) FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	refs := make(map[string]struct{})
	lo, hi := reqs[0].Day, reqs[0].Day
	for _, r := range reqs {
		refs[r.Ref] = struct{}{}
		if r.Day.Before(lo) {
			lo = r.Day
		}
		if r.Day.After(hi) {
			hi = r.Day
		}
	}
	refList := make([]string, 0, len(refs))
	for ref := range refs {
		refList = append(refList, ref)
	}

	q := url.Values{}
	q.Set("refs", strings.Join(refList, ","))
	q.Set("from", model.DayKey(lo))
	q.Set("to", model.DayKey(hi))
	if p.apiKey != "" {
		q.Set("api_token", p.apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/eod?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote fetch: %s returned %s", p.baseURL, resp.Status)
	}

	var rows []quoteRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("quote fetch: decode response: %w", err)
	}

	// Index fetched prices by (ref, day), then map back onto the requests.
	byRefDay := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		byRefDay[row.Ref+"|"+row.Date] = row.Price
	}

	out := make(map[string]decimal.Decimal, len(reqs))
	for _, r := range reqs {
		if price, ok := byRefDay[r.Ref+"|"+model.DayKey(r.Day)]; ok {
			out[r.Key()] = price
		}
	}
	return out, nil
}
