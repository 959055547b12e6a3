package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// State is the running (quantity, cost basis per unit) pair carried through
// a replay.
type State struct {
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
}

// resetBasis resolves the absolute cost basis set by a reset event: a
// caller-supplied override wins, then the event's explicit cost basis, then
// its recorded unit value.
func resetBasis(e model.Event, overrides map[string]decimal.Decimal) decimal.Decimal {
	if ov, ok := overrides[e.ID]; ok {
		return ov
	}
	if e.CostBasisPerUnit != nil {
		return *e.CostBasisPerUnit
	}
	return e.UnitValue
}

// Apply advances the running state by one event.
//
//   - buy: blends cost basis by quantity-weighted average, adds quantity.
//   - sell: removes quantity (floored at zero), cost basis unchanged.
//   - reset: sets quantity and cost basis absolutely.
//
// Sells that would overdraw are clamped here as a guard; the validator
// rejects them before commit, so a clamp firing means the caller skipped
// validation.
func Apply(s State, e model.Event, overrides map[string]decimal.Decimal) State {
	switch e.Type {
	case model.EventBuy:
		total := s.Quantity.Add(e.Quantity)
		if total.IsZero() {
			return State{Quantity: total, CostBasis: s.CostBasis}
		}
		blended := s.Quantity.Mul(s.CostBasis).
			Add(e.Quantity.Mul(e.UnitValue)).
			Div(total)
		return State{Quantity: total, CostBasis: blended}
	case model.EventSell:
		remaining := s.Quantity.Sub(e.Quantity)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return State{Quantity: remaining, CostBasis: s.CostBasis}
	case model.EventReset:
		return State{Quantity: e.Quantity, CostBasis: resetBasis(e, overrides)}
	}
	return s
}

// Store is the slice of persistence the replay engine needs. The engine
// performs no durable I/O of its own.
type Store interface {
	// LatestSnapshotBefore returns the most recent snapshot strictly before
	// date, or nil if the position has no prior history.
	LatestSnapshotBefore(ctx context.Context, positionID string, date time.Time) (*model.Snapshot, error)

	// EventsFrom returns all events for the position dated on or after from.
	// Order is not guaranteed; the engine sorts canonically.
	EventsFrom(ctx context.Context, positionID string, from time.Time) ([]model.Event, error)

	// ReplaceSnapshots atomically rewrites the snapshot rows for the events
	// covered by the given snapshots (matched by event id). All-or-nothing:
	// a partial write must be impossible.
	ReplaceSnapshots(ctx context.Context, positionID string, snapshots []model.Snapshot) error
}

// Engine recomputes materialized snapshots for the window affected by an
// event insert, edit, or delete. Recalculation for one position is
// inherently sequential; callers serialize concurrent passes per position.
type Engine struct {
	store Store
}

// NewEngine creates a replay engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Recalculate rebuilds every snapshot in the window starting at fromDate and
// bounded by the next reset event strictly after fromDate (exclusive), or the
// end of the timeline. The boundary reset's state is never derived from the
// window — it keeps its own absolute value (adjusted only by an overrides
// entry for its event id) — but its snapshot row is still rewritten from the
// event's current fields, so a date or type edit that turns an event into the
// boundary cannot leave a stale row behind.
//
// Any failure is wrapped in ErrRecalculationFailed: the caller must treat it
// as fatal for the triggering operation, never as a best-effort state.
func (e *Engine) Recalculate(ctx context.Context, positionID string, fromDate time.Time, overrides map[string]decimal.Decimal) error {
	from := model.Day(fromDate)

	seed := State{Quantity: decimal.Zero, CostBasis: decimal.Zero}
	prior, err := e.store.LatestSnapshotBefore(ctx, positionID, from)
	if err != nil {
		return fmt.Errorf("%w: seed snapshot for position %s: %v", ErrRecalculationFailed, positionID, err)
	}
	if prior != nil {
		seed = State{Quantity: prior.Quantity, CostBasis: prior.CostBasisPerUnit}
	}

	events, err := e.store.EventsFrom(ctx, positionID, from)
	if err != nil {
		return fmt.Errorf("%w: load events for position %s: %v", ErrRecalculationFailed, positionID, err)
	}
	SortEvents(events)

	// Split the timeline at the boundary: the first reset strictly after
	// fromDate. Everything past it keeps its own checkpointed state.
	window := events
	var boundary *model.Event
	for i, ev := range events {
		if ev.Type == model.EventReset && ev.Date.After(from) {
			boundary = &events[i]
			window = events[:i]
			break
		}
	}

	state := seed
	snapshots := make([]model.Snapshot, 0, len(window)+1)
	for _, ev := range window {
		if ev.Type == model.EventReset && ev.Date.After(from) {
			// Unreachable if the boundary split above is correct.
			return fmt.Errorf("%w: event %s at %s", ErrResetInWindow, ev.ID, model.DayKey(ev.Date))
		}
		state = Apply(state, ev, overrides)
		snapshots = append(snapshots, snapshotFor(ev, state))
	}

	// The boundary reset's snapshot depends only on its own event fields
	// (plus an optional override for its id), so rewriting it here keeps the
	// row in step with the event without deriving anything from the window.
	if boundary != nil {
		bs := Apply(State{}, *boundary, overrides)
		snapshots = append(snapshots, snapshotFor(*boundary, bs))
	}

	if len(snapshots) == 0 {
		return nil
	}

	if err := e.store.ReplaceSnapshots(ctx, positionID, snapshots); err != nil {
		return fmt.Errorf("%w: write snapshots for position %s: %v", ErrRecalculationFailed, positionID, err)
	}

	slog.Info("snapshots recalculated",
		"position", positionID,
		"from", model.DayKey(from),
		"rewritten", len(snapshots),
		"bounded", boundary != nil,
	)
	return nil
}

// snapshotFor materializes the post-event state as a snapshot row. The
// snapshot inherits the event's CreatedAt so canonical snapshot ordering
// mirrors canonical event ordering.
func snapshotFor(ev model.Event, s State) model.Snapshot {
	return model.Snapshot{
		ID:               uuid.New().String(),
		PositionID:       ev.PositionID,
		EventID:          ev.ID,
		Date:             ev.Date,
		Quantity:         s.Quantity,
		UnitValue:        ev.UnitValue,
		CostBasisPerUnit: s.CostBasis,
		CreatedAt:        ev.CreatedAt,
	}
}
