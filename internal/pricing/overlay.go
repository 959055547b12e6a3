// Package pricing supplies optional market prices that override the ledger's
// own recorded values in daily valuations.
//
// Prices are resolved once per request batch through a shared
// cache-check → batch-fetch-missing → upsert → merge pipeline, then passed
// into the synthesizer as a plain map. The same pipeline serves every
// provider kind (symbol quotes, alternative-asset valuations); kinds differ
// only in which handler collects and fetches their requests.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// Overlay maps "positionID|YYYY-MM-DD" to a market price. Days without an
// entry fall back to the snapshot's recorded value.
type Overlay map[string]decimal.Decimal

// Request asks for the market price of one position on one day. Ref is the
// provider-specific reference (e.g. a ticker symbol).
type Request struct {
	PositionID string
	Ref        string
	Currency   string
	Day        time.Time
}

// Key returns the overlay key this request resolves to.
func (r Request) Key() string {
	return model.OverlayKey(r.PositionID, r.Day)
}

// Days enumerates the calendar days in [from, to], inclusive. Used by
// callers to build per-batch request sets.
func Days(from, to time.Time) []time.Time {
	from = model.Day(from)
	to = model.Day(to)
	if to.Before(from) {
		return nil
	}
	days := make([]time.Time, 0, to.Sub(from)/(24*time.Hour)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
