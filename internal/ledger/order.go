// Package ledger implements the correctness-critical core of the position
// ledger: canonical timeline ordering, pre-commit event validation, and the
// replay engine that rebuilds materialized snapshots after a timeline edit.
//
// All quantities and monetary values use shopspring/decimal — never float64
// for money.
package ledger

import (
	"sort"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// SortEvents orders events by the canonical (date, created_at, id) key.
// This order is the single source of truth for replay: storage fetch order
// is never relied upon.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// SortSnapshots orders snapshots by the canonical (date, created_at, id) key
// of their source events. The tie-break uses EventID, not the snapshot's own
// id: snapshot ids are regenerated on every recalculation, so only the event
// id keeps the order stable across rewrites.
func SortSnapshots(snapshots []model.Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		a, b := snapshots[i], snapshots[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.EventID < b.EventID
	})
}
