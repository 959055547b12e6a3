package valuation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC)
}

func snap(id string, dayN int, qty, unit, basis float64, seq int) model.Snapshot {
	return model.Snapshot{
		ID:               id,
		PositionID:       "pos1",
		EventID:          "ev-" + id,
		Date:             day(dayN),
		Quantity:         d(qty),
		UnitValue:        d(unit),
		CostBasisPerUnit: d(basis),
		CreatedAt:        time.Date(2024, 3, dayN, 12, 0, seq, 0, time.UTC),
	}
}

func synthesizeOne(t *testing.T, snaps []model.Snapshot, start, end time.Time, opts Options) []model.DailyValuation {
	t.Helper()
	return Synthesize([]Series{{PositionID: "pos1", Snapshots: snaps}}, start, end, opts)["pos1"]
}

func TestSynthesize_NoRetroactiveRows(t *testing.T) {
	// First snapshot on day 3 of a [day1..day5] request → exactly 3 rows.
	rows := synthesizeOne(t, []model.Snapshot{snap("s1", 3, 2, 10, 10, 0)}, day(1), day(5), Options{})

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if !rows[0].Date.Equal(day(3)) || !rows[2].Date.Equal(day(5)) {
		t.Errorf("expected rows for day3..day5, got %s..%s",
			model.DayKey(rows[0].Date), model.DayKey(rows[len(rows)-1].Date))
	}
}

func TestSynthesize_EmptySeriesEmitsNothing(t *testing.T) {
	out := Synthesize([]Series{{PositionID: "pos1"}}, day(1), day(5), Options{})
	if len(out) != 0 {
		t.Errorf("expected no output for an empty series, got %v", out)
	}
}

func TestSynthesize_ClampedEmptyRangeEmitsNothing(t *testing.T) {
	// End cap before the first snapshot date.
	rows := synthesizeOne(t, []model.Snapshot{snap("s1", 4, 2, 10, 10, 0)}, day(1), day(5), Options{
		EndCaps: map[string]time.Time{"pos1": day(2)},
	})
	if rows != nil {
		t.Errorf("expected zero rows, got %d", len(rows))
	}
}

func TestSynthesize_StateCarryScenario(t *testing.T) {
	// day1: qty 2 basis 10; day3: qty 5 basis 16; day5: qty 3 basis 16.
	snaps := []model.Snapshot{
		snap("s1", 1, 2, 10, 10, 0),
		snap("s2", 3, 5, 20, 16, 0),
		snap("s3", 5, 3, 25, 16, 0),
	}
	rows := synthesizeOne(t, snaps, day(1), day(5), Options{})

	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	wantQty := []float64{2, 2, 5, 5, 3}
	wantBasis := []float64{10, 10, 16, 16, 16}
	for i, row := range rows {
		if !row.Quantity.Equal(d(wantQty[i])) {
			t.Errorf("day%d: expected quantity %v, got %s", i+1, wantQty[i], row.Quantity)
		}
		if !row.CostBasisPerUnit.Equal(d(wantBasis[i])) {
			t.Errorf("day%d: expected basis %v, got %s", i+1, wantBasis[i], row.CostBasisPerUnit)
		}
	}
}

func TestSynthesize_OverlayPrecedence(t *testing.T) {
	snaps := []model.Snapshot{snap("s1", 3, 2, 100, 90, 0)}
	overlay := map[string]decimal.Decimal{
		model.OverlayKey("pos1", day(4)): d(120),
	}
	rows := synthesizeOne(t, snaps, day(3), day(4), Options{Overlay: overlay})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// Day 3: no overlay entry → snapshot value.
	if rows[0].PriceSource != model.PriceFromSnapshot || !rows[0].UnitValue.Equal(d(100)) {
		t.Errorf("day3: expected snapshot price 100, got %s from %s", rows[0].UnitValue, rows[0].PriceSource)
	}

	// Day 4: overlay wins, snapshot value still reported alongside.
	if rows[1].PriceSource != model.PriceFromMarket || !rows[1].UnitValue.Equal(d(120)) {
		t.Errorf("day4: expected market price 120, got %s from %s", rows[1].UnitValue, rows[1].PriceSource)
	}
	if !rows[1].SnapshotUnitValue.Equal(d(100)) {
		t.Errorf("day4: expected snapshot_unit_value 100, got %s", rows[1].SnapshotUnitValue)
	}
	if !rows[1].TotalValue.Equal(d(240)) {
		t.Errorf("day4: expected total 240, got %s", rows[1].TotalValue)
	}
}

func TestSynthesize_SameDayTieBreak(t *testing.T) {
	// Two snapshots on day 2; the one created later must win.
	snaps := []model.Snapshot{
		snap("s2", 2, 7, 11, 11, 30),
		snap("s1", 2, 3, 10, 10, 0),
	}
	rows := synthesizeOne(t, snaps, day(2), day(2), Options{})

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].Quantity.Equal(d(7)) {
		t.Errorf("expected the canonical-last snapshot (qty 7) to win, got %s", rows[0].Quantity)
	}
}

func TestSynthesize_SkipZeroQuantityDays(t *testing.T) {
	snaps := []model.Snapshot{
		snap("s1", 1, 5, 10, 10, 0),
		snap("s2", 3, 0, 12, 10, 0), // full exit
	}

	rows := synthesizeOne(t, snaps, day(1), day(5), Options{})
	if len(rows) != 5 {
		t.Fatalf("default must keep zero-quantity days: expected 5 rows, got %d", len(rows))
	}

	rows = synthesizeOne(t, snaps, day(1), day(5), Options{SkipZeroQuantityDays: true})
	if len(rows) != 2 {
		t.Fatalf("expected only the 2 held days, got %d", len(rows))
	}
	for _, row := range rows {
		if !row.Quantity.IsPositive() {
			t.Errorf("suppressed rows leaked: quantity %s on %s", row.Quantity, model.DayKey(row.Date))
		}
	}
}

func TestSynthesize_DeterministicAcrossInputOrder(t *testing.T) {
	ordered := []model.Snapshot{
		snap("s1", 1, 2, 10, 10, 0),
		snap("s2", 3, 5, 20, 16, 0),
		snap("s3", 5, 3, 25, 16, 0),
	}
	shuffled := []model.Snapshot{ordered[2], ordered[0], ordered[1]}

	a := synthesizeOne(t, ordered, day(1), day(5), Options{})
	b := synthesizeOne(t, shuffled, day(1), day(5), Options{})

	if len(a) != len(b) {
		t.Fatalf("row counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Quantity.Equal(b[i].Quantity) || !a[i].UnitValue.Equal(b[i].UnitValue) ||
			!a[i].Date.Equal(b[i].Date) {
			t.Errorf("row %d differs across input orderings: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSynthesize_MultiplePositionsIndependent(t *testing.T) {
	series := []Series{
		{PositionID: "pos1", Snapshots: []model.Snapshot{snap("s1", 1, 2, 10, 10, 0)}},
		{PositionID: "pos2", Snapshots: []model.Snapshot{{
			ID: "s9", PositionID: "pos2", EventID: "ev-s9",
			Date: day(4), Quantity: d(1), UnitValue: d(50), CostBasisPerUnit: d(50),
			CreatedAt: day(4),
		}}},
	}
	out := Synthesize(series, day(1), day(5), Options{})

	if len(out["pos1"]) != 5 {
		t.Errorf("pos1: expected 5 rows, got %d", len(out["pos1"]))
	}
	if len(out["pos2"]) != 2 {
		t.Errorf("pos2: expected 2 rows (day4, day5), got %d", len(out["pos2"]))
	}
}
