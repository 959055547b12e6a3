// Package valuation expands a position's sparse snapshot series into a dense
// one-row-per-day table for reporting, optionally overridden by market
// prices. It is read-only and side-effect-free.
package valuation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/ledger"
	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// Series is one position's snapshot history, in any order. Sorting is the
// synthesizer's responsibility so output is identical regardless of storage
// fetch order.
type Series struct {
	PositionID string
	Snapshots  []model.Snapshot
}

// Options tunes synthesis for one request batch.
type Options struct {
	// Overlay maps "positionID|YYYY-MM-DD" to a market price that overrides
	// the snapshot's own recorded value. Resolved once per batch upstream;
	// the synthesizer never performs I/O.
	Overlay map[string]decimal.Decimal

	// EndCaps clamps each position's last synthesized day (e.g. its archive
	// date). Positions without an entry run to the requested end.
	EndCaps map[string]time.Time

	// SkipZeroQuantityDays suppresses rows whose carried quantity is <= 0.
	// Default keeps them so consumers see an explicit zero, not a gap.
	SkipZeroQuantityDays bool
}

// Synthesize produces, for each position independently, exactly one row per
// calendar day in [max(start, first snapshot date), min(end, end cap)].
// No row is ever emitted before a position's first known snapshot date, and
// a clamped-empty range emits zero rows.
//
// Each day carries state from the last snapshot dated on or before it; when
// several snapshots share a date the canonical-last one wins.
func Synthesize(positions []Series, start, end time.Time, opts Options) map[string][]model.DailyValuation {
	start = model.Day(start)
	end = model.Day(end)

	out := make(map[string][]model.DailyValuation, len(positions))
	for _, pos := range positions {
		if len(pos.Snapshots) == 0 {
			continue
		}

		snaps := make([]model.Snapshot, len(pos.Snapshots))
		copy(snaps, pos.Snapshots)
		ledger.SortSnapshots(snaps)

		first := model.Day(snaps[0].Date)
		lo := start
		if first.After(lo) {
			lo = first
		}
		hi := end
		if capDay, ok := opts.EndCaps[pos.PositionID]; ok {
			capDay = model.Day(capDay)
			if capDay.Before(hi) {
				hi = capDay
			}
		}
		if hi.Before(lo) {
			continue
		}

		rows := make([]model.DailyValuation, 0, hi.Sub(lo)/(24*time.Hour)+1)
		cursor := 0
		for day := lo; !day.After(hi); day = day.AddDate(0, 0, 1) {
			// Advance to the last snapshot dated on or before this day.
			for cursor+1 < len(snaps) && !model.Day(snaps[cursor+1].Date).After(day) {
				cursor++
			}
			snap := snaps[cursor]

			if opts.SkipZeroQuantityDays && !snap.Quantity.IsPositive() {
				continue
			}

			unitValue := snap.UnitValue
			source := model.PriceFromSnapshot
			if price, ok := opts.Overlay[model.OverlayKey(pos.PositionID, day)]; ok {
				unitValue = price
				source = model.PriceFromMarket
			}

			rows = append(rows, model.DailyValuation{
				Date:              day,
				Quantity:          snap.Quantity,
				UnitValue:         unitValue,
				SnapshotUnitValue: snap.UnitValue,
				CostBasisPerUnit:  snap.CostBasisPerUnit,
				TotalValue:        snap.Quantity.Mul(unitValue),
				PriceSource:       source,
			})
		}
		if len(rows) > 0 {
			out[pos.PositionID] = rows
		}
	}
	return out
}
