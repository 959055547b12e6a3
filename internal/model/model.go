// Package model defines the core domain types shared across the position
// ledger. All quantities and monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types. A buy adds quantity and blends cost basis, a sell removes
// quantity without touching cost basis, a reset is a checkpoint that sets
// quantity and cost basis absolutely.
const (
	EventBuy   = "buy"
	EventSell  = "sell"
	EventReset = "reset"
)

// Position kinds.
const (
	PositionAsset     = "asset"
	PositionLiability = "liability"
)

// Price source kinds for positions priced by an external provider. An empty
// kind means the position is valued only by its own recorded events.
const (
	PriceSourceSymbol      = "symbol"
	PriceSourceAlternative = "alternative"
)

// Position is the identity of a tracked asset or liability. It is archived
// (soft-deleted) rather than removed while event history exists.
type Position struct {
	ID              string           `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	Currency        string           `json:"currency" db:"currency"`
	Type            string           `json:"type" db:"type"` // "asset" or "liability"
	PriceSourceKind string           `json:"price_source_kind,omitempty" db:"price_source_kind"`
	PriceSourceRef  string           `json:"price_source_ref,omitempty" db:"price_source_ref"` // e.g. ticker symbol
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty" db:"tax_rate"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty" db:"archived_at"`
}

// Event is one user-entered record on a position's timeline. Immutable once
// committed except through the explicit edit/delete flows, which trigger
// recalculation of the affected snapshot window.
//
// Multiple events may share a date; CreatedAt and then ID disambiguate.
type Event struct {
	ID          string          `json:"id" db:"id"`
	PositionID  string          `json:"position_id" db:"position_id"`
	Type        string          `json:"type" db:"type"`
	Date        time.Time       `json:"date" db:"date"` // calendar day, UTC midnight
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value" db:"unit_value"`
	Description string          `json:"description,omitempty" db:"description"`
	// CostBasisPerUnit overrides the derived cost basis; only meaningful on
	// reset events.
	CostBasisPerUnit *decimal.Decimal `json:"cost_basis_per_unit,omitempty" db:"cost_basis_per_unit"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// Snapshot is the materialized state at one event's date, 1:1 with events.
// It is fully derived from the event log and is destroyed and recreated
// whenever recalculation runs over its date.
type Snapshot struct {
	ID               string          `json:"id" db:"id"`
	PositionID       string          `json:"position_id" db:"position_id"`
	EventID          string          `json:"event_id" db:"event_id"`
	Date             time.Time       `json:"date" db:"date"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	UnitValue        decimal.Decimal `json:"unit_value" db:"unit_value"`
	CostBasisPerUnit decimal.Decimal `json:"cost_basis_per_unit" db:"cost_basis_per_unit"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Daily valuation price sources.
const (
	PriceFromMarket   = "market"
	PriceFromSnapshot = "snapshot"
)

// DailyValuation is one row of the dense per-day read model produced by the
// synthesizer. Never persisted.
type DailyValuation struct {
	Date              time.Time       `json:"date"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitValue         decimal.Decimal `json:"unit_value"`
	SnapshotUnitValue decimal.Decimal `json:"snapshot_unit_value"`
	CostBasisPerUnit  decimal.Decimal `json:"cost_basis_per_unit"`
	TotalValue        decimal.Decimal `json:"total_value"`
	PriceSource       string          `json:"price_source"` // "market" or "snapshot"
}

// DayLayout is the wire format for calendar days.
const DayLayout = "2006-01-02"

// Day truncates t to its calendar day at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a "YYYY-MM-DD" string into a UTC-midnight day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// DayKey formats t as "YYYY-MM-DD".
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// OverlayKey builds the "positionID|YYYY-MM-DD" key used by market price
// overlays.
func OverlayKey(positionID string, day time.Time) string {
	return positionID + "|" + DayKey(day)
}
