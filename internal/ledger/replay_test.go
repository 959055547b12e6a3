package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC)
}

func at(n int, seq int) time.Time {
	return time.Date(2024, 3, n, 12, 0, seq, 0, time.UTC)
}

func buy(id string, dayN int, qty, unit float64) model.Event {
	return model.Event{
		ID: id, PositionID: "pos1", Type: model.EventBuy,
		Date: day(dayN), Quantity: d(qty), UnitValue: d(unit), CreatedAt: at(dayN, 0),
	}
}

func sell(id string, dayN int, qty, unit float64) model.Event {
	return model.Event{
		ID: id, PositionID: "pos1", Type: model.EventSell,
		Date: day(dayN), Quantity: d(qty), UnitValue: d(unit), CreatedAt: at(dayN, 0),
	}
}

func reset(id string, dayN int, qty, unit float64) model.Event {
	return model.Event{
		ID: id, PositionID: "pos1", Type: model.EventReset,
		Date: day(dayN), Quantity: d(qty), UnitValue: d(unit), CreatedAt: at(dayN, 0),
	}
}

// --- Apply tests ---

func TestApply_BuyBlendsWeightedAverage(t *testing.T) {
	// quantity=10 @ cost 80, buy 5 @ 100 → basis (10*80 + 5*100)/15, qty 15.
	state := Apply(State{Quantity: d(10), CostBasis: d(80)}, buy("e1", 1, 5, 100), nil)

	if !state.Quantity.Equal(d(15)) {
		t.Errorf("expected quantity 15, got %s", state.Quantity)
	}
	want := d(1300).Div(d(15))
	if !state.CostBasis.Equal(want) {
		t.Errorf("expected cost basis %s, got %s", want, state.CostBasis)
	}
}

func TestApply_SellPreservesBasis(t *testing.T) {
	state := Apply(State{Quantity: d(10), CostBasis: d(80)}, sell("e1", 1, 4, 95), nil)

	if !state.Quantity.Equal(d(6)) {
		t.Errorf("expected quantity 6, got %s", state.Quantity)
	}
	if !state.CostBasis.Equal(d(80)) {
		t.Errorf("sell must not change cost basis: got %s", state.CostBasis)
	}
}

func TestApply_SellClampsAtZero(t *testing.T) {
	state := Apply(State{Quantity: d(3), CostBasis: d(80)}, sell("e1", 1, 5, 95), nil)
	if !state.Quantity.IsZero() {
		t.Errorf("overdraw must clamp to zero, got %s", state.Quantity)
	}
}

func TestApply_ResetOverridesAbsolutely(t *testing.T) {
	state := Apply(State{Quantity: d(999), CostBasis: d(1)}, reset("e1", 1, 7, 50), nil)

	if !state.Quantity.Equal(d(7)) {
		t.Errorf("expected quantity 7, got %s", state.Quantity)
	}
	if !state.CostBasis.Equal(d(50)) {
		t.Errorf("expected cost basis 50 (from unit value), got %s", state.CostBasis)
	}
}

func TestApply_ResetExplicitBasisWins(t *testing.T) {
	ev := reset("e1", 1, 7, 50)
	basis := d(42)
	ev.CostBasisPerUnit = &basis

	state := Apply(State{}, ev, nil)
	if !state.CostBasis.Equal(d(42)) {
		t.Errorf("expected explicit basis 42, got %s", state.CostBasis)
	}
}

func TestApply_ResetOverrideBeatsExplicitBasis(t *testing.T) {
	ev := reset("e1", 1, 7, 50)
	basis := d(42)
	ev.CostBasisPerUnit = &basis

	state := Apply(State{}, ev, map[string]decimal.Decimal{"e1": d(33)})
	if !state.CostBasis.Equal(d(33)) {
		t.Errorf("expected override basis 33, got %s", state.CostBasis)
	}
}

// --- Canonical ordering tests ---

func TestSortEvents_DateThenCreatedAtThenID(t *testing.T) {
	a := buy("a", 2, 1, 1)
	b := buy("b", 1, 1, 1)
	c := buy("c", 1, 1, 1)
	c.CreatedAt = at(1, 5) // later insertion than b
	sameAsC := buy("b2", 1, 1, 1)
	sameAsC.CreatedAt = at(1, 5)

	events := []model.Event{a, c, sameAsC, b}
	SortEvents(events)

	got := []string{events[0].ID, events[1].ID, events[2].ID, events[3].ID}
	want := []string{"b", "b2", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("canonical order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestSortSnapshots_TieBreaksOnEventID(t *testing.T) {
	// Snapshot ids are regenerated on every recalculation, so two snapshots
	// sharing (date, created_at) must order by their stable event ids — here
	// the snapshot ids run opposite to the event ids.
	snaps := []model.Snapshot{
		{ID: "z1", EventID: "e2", PositionID: "pos1", Date: day(1), CreatedAt: at(1, 0)},
		{ID: "a9", EventID: "e1", PositionID: "pos1", Date: day(1), CreatedAt: at(1, 0)},
	}
	SortSnapshots(snaps)

	if snaps[0].EventID != "e1" || snaps[1].EventID != "e2" {
		t.Errorf("expected event-id order e1, e2; got %s, %s", snaps[0].EventID, snaps[1].EventID)
	}
}

// --- Engine tests (against a fake store) ---

// fakeStore implements ledger.Store for engine tests.
type fakeStore struct {
	events    []model.Event
	prior     *model.Snapshot
	written   map[string]model.Snapshot // by event id
	writes    int
	failWrite bool
}

func newFakeStore(prior *model.Snapshot, events ...model.Event) *fakeStore {
	return &fakeStore{events: events, prior: prior, written: make(map[string]model.Snapshot)}
}

func (f *fakeStore) LatestSnapshotBefore(_ context.Context, _ string, date time.Time) (*model.Snapshot, error) {
	if f.prior != nil && f.prior.Date.Before(date) {
		cp := *f.prior
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) EventsFrom(_ context.Context, _ string, from time.Time) ([]model.Event, error) {
	var out []model.Event
	for _, e := range f.events {
		if !e.Date.Before(from) {
			out = append(out, e)
		}
	}
	// Reverse to prove the engine does not rely on fetch order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (f *fakeStore) ReplaceSnapshots(_ context.Context, _ string, snaps []model.Snapshot) error {
	if f.failWrite {
		return context.DeadlineExceeded
	}
	f.writes++
	for _, s := range snaps {
		f.written[s.EventID] = s
	}
	return nil
}

func TestRecalculate_EndToEndScenario(t *testing.T) {
	// day1: buy 2 @ 10; day3: buy 3 @ 20; day5: sell 2.
	fs := newFakeStore(nil,
		buy("e1", 1, 2, 10),
		buy("e2", 3, 3, 20),
		sell("e3", 5, 2, 25),
	)
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(1), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		eventID string
		qty     float64
		basis   float64
	}{
		{"e1", 2, 10},
		{"e2", 5, 16}, // (2*10 + 3*20) / 5
		{"e3", 3, 16}, // sell preserves basis
	}
	for _, c := range checks {
		snap, ok := fs.written[c.eventID]
		if !ok {
			t.Fatalf("no snapshot written for %s", c.eventID)
		}
		if !snap.Quantity.Equal(d(c.qty)) {
			t.Errorf("%s: expected quantity %v, got %s", c.eventID, c.qty, snap.Quantity)
		}
		if !snap.CostBasisPerUnit.Equal(d(c.basis)) {
			t.Errorf("%s: expected basis %v, got %s", c.eventID, c.basis, snap.CostBasisPerUnit)
		}
	}
}

func TestRecalculate_SeedsFromPriorSnapshot(t *testing.T) {
	prior := &model.Snapshot{
		ID: "s0", PositionID: "pos1", EventID: "e0",
		Date: day(1), Quantity: d(10), UnitValue: d(80), CostBasisPerUnit: d(80),
		CreatedAt: at(1, 0),
	}
	fs := newFakeStore(prior, buy("e1", 3, 5, 100))
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(3), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := fs.written["e1"]
	if !snap.Quantity.Equal(d(15)) {
		t.Errorf("expected quantity 15, got %s", snap.Quantity)
	}
	want := d(1300).Div(d(15))
	if !snap.CostBasisPerUnit.Equal(want) {
		t.Errorf("expected basis %s, got %s", want, snap.CostBasisPerUnit)
	}
}

func TestRecalculate_StopsAtResetBoundary(t *testing.T) {
	fs := newFakeStore(nil,
		buy("e1", 1, 2, 10),
		reset("e2", 4, 100, 5),
		buy("e3", 6, 1, 7),
	)
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(1), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := fs.written["e1"]; !ok {
		t.Error("expected snapshot for e1 inside the window")
	}
	// The boundary reset's row is rewritten from its own fields, never
	// derived from the window.
	snap, ok := fs.written["e2"]
	if !ok {
		t.Fatal("expected the boundary reset's snapshot to be rewritten")
	}
	if !snap.Quantity.Equal(d(100)) || !snap.CostBasisPerUnit.Equal(d(5)) {
		t.Errorf("boundary reset keeps its checkpointed state: got qty=%s basis=%s",
			snap.Quantity, snap.CostBasisPerUnit)
	}
	if _, ok := fs.written["e3"]; ok {
		t.Error("events past the boundary must not be recomputed")
	}
}

func TestRecalculate_BoundaryResetDateEditLandsInSnapshot(t *testing.T) {
	// A reset moved from day 3 to day 5 becomes the boundary of a recalc
	// starting at its old date; the rewritten row must carry the new date.
	moved := reset("e2", 5, 10, 8)
	fs := newFakeStore(nil,
		buy("e1", 1, 2, 10),
		moved,
	)
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(3), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, ok := fs.written["e2"]
	if !ok {
		t.Fatal("expected the boundary reset's snapshot to be rewritten")
	}
	if !snap.Date.Equal(day(5)) {
		t.Errorf("expected snapshot date %s, got %s", day(5), snap.Date)
	}
	if !snap.Quantity.Equal(d(10)) || !snap.CostBasisPerUnit.Equal(d(8)) {
		t.Errorf("expected qty=10 basis=8, got qty=%s basis=%s", snap.Quantity, snap.CostBasisPerUnit)
	}
	if _, ok := fs.written["e1"]; ok {
		t.Error("events before the recalc start must not be touched")
	}
}

func TestRecalculate_BoundaryOverrideAdjustsReset(t *testing.T) {
	fs := newFakeStore(nil,
		buy("e1", 1, 2, 10),
		reset("e2", 4, 100, 5),
	)
	engine := NewEngine(fs)

	overrides := map[string]decimal.Decimal{"e2": d(9)}
	if err := engine.Recalculate(context.Background(), "pos1", day(1), overrides); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, ok := fs.written["e2"]
	if !ok {
		t.Fatal("expected the overridden boundary reset to be rewritten")
	}
	if !snap.Quantity.Equal(d(100)) {
		t.Errorf("boundary reset keeps its own quantity: got %s", snap.Quantity)
	}
	if !snap.CostBasisPerUnit.Equal(d(9)) {
		t.Errorf("expected overridden basis 9, got %s", snap.CostBasisPerUnit)
	}
}

func TestRecalculate_ResetAtFromDateSeedsWindow(t *testing.T) {
	fs := newFakeStore(nil,
		reset("e1", 2, 50, 4),
		buy("e2", 3, 50, 8),
	)
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(2), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := fs.written["e2"]
	if !snap.Quantity.Equal(d(100)) {
		t.Errorf("expected quantity 100, got %s", snap.Quantity)
	}
	if !snap.CostBasisPerUnit.Equal(d(6)) { // (50*4 + 50*8) / 100
		t.Errorf("expected basis 6, got %s", snap.CostBasisPerUnit)
	}
}

func TestRecalculate_Idempotent(t *testing.T) {
	fs := newFakeStore(nil,
		buy("e1", 1, 2, 10),
		buy("e2", 3, 3, 20),
		sell("e3", 5, 2, 25),
	)
	engine := NewEngine(fs)

	ctx := context.Background()
	if err := engine.Recalculate(ctx, "pos1", day(1), nil); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := make(map[string]model.Snapshot, len(fs.written))
	for k, v := range fs.written {
		first[k] = v
	}

	if err := engine.Recalculate(ctx, "pos1", day(1), nil); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	for eventID, a := range first {
		b := fs.written[eventID]
		if !a.Quantity.Equal(b.Quantity) || !a.CostBasisPerUnit.Equal(b.CostBasisPerUnit) ||
			!a.UnitValue.Equal(b.UnitValue) || !a.Date.Equal(b.Date) {
			t.Errorf("%s: second pass diverged: %+v vs %+v", eventID, a, b)
		}
	}
}

func TestRecalculate_WriteFailureIsFatal(t *testing.T) {
	fs := newFakeStore(nil, buy("e1", 1, 2, 10))
	fs.failWrite = true
	engine := NewEngine(fs)

	err := engine.Recalculate(context.Background(), "pos1", day(1), nil)
	if err == nil {
		t.Fatal("expected an error when the snapshot write fails")
	}
	if !errors.Is(err, ErrRecalculationFailed) {
		t.Errorf("expected ErrRecalculationFailed, got %v", err)
	}
}

func TestRecalculate_EmptyWindowWritesNothing(t *testing.T) {
	fs := newFakeStore(nil)
	engine := NewEngine(fs)

	if err := engine.Recalculate(context.Background(), "pos1", day(1), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.writes != 0 {
		t.Errorf("expected no writes for an empty window, got %d", fs.writes)
	}
}
