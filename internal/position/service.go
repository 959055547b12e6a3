// Package position provides the HTTP handlers and orchestration for managing
// positions and their event timelines: validate a proposed change, commit it,
// recalculate the affected snapshot window, and serve daily valuations.
//
// All quantities and monetary values use shopspring/decimal — never float64
// for money.
package position

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/ledger"
	"github.com/unav4ila8le/foliofox-sub003/internal/metrics"
	"github.com/unav4ila8le/foliofox-sub003/internal/model"
	"github.com/unav4ila8le/foliofox-sub003/internal/pricing"
	"github.com/unav4ila8le/foliofox-sub003/internal/store"
	"github.com/unav4ila8le/foliofox-sub003/internal/valuation"
)

// Service handles position and timeline operations. Commit+recalculate is
// serialized per position; reads and work on other positions proceed in
// parallel.
type Service struct {
	store    store.Store
	engine   *ledger.Engine
	resolver *pricing.Resolver // optional; nil disables market overlays
	locks    *positionLocks
}

// NewService creates a new position service. Pass nil for resolver if no
// market price source is configured.
func NewService(st store.Store, engine *ledger.Engine, resolver *pricing.Resolver) *Service {
	return &Service{
		store:    st,
		engine:   engine,
		resolver: resolver,
		locks:    newPositionLocks(),
	}
}

// Routes mounts all service endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/positions", s.CreatePosition)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Delete("/positions/{positionID}", s.ArchivePosition)

	r.Post("/positions/{positionID}/events", s.CreateEvent)
	r.Get("/positions/{positionID}/events", s.ListEvents)
	r.Get("/positions/{positionID}/valuations", s.GetValuations)

	r.Put("/events/{eventID}", s.UpdateEvent)
	r.Delete("/events/{eventID}", s.DeleteEvent)

	r.Get("/report/networth", s.NetWorth)
}

// --- Request/Response types ---

// CreatePositionRequest is the JSON body for position creation.
type CreatePositionRequest struct {
	Name            string           `json:"name"`
	Currency        string           `json:"currency"`
	Type            string           `json:"type"` // "asset" or "liability"
	PriceSourceKind string           `json:"price_source_kind,omitempty"`
	PriceSourceRef  string           `json:"price_source_ref,omitempty"`
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty"`
}

// EventRequest is the JSON body for creating or editing a timeline event.
type EventRequest struct {
	Type        string          `json:"type"` // "buy", "sell", or "reset"
	Date        string          `json:"date"` // "YYYY-MM-DD"
	Quantity    decimal.Decimal `json:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	Description string          `json:"description,omitempty"`
	// CostBasisPerUnit is only meaningful when type is "reset".
	CostBasisPerUnit *decimal.Decimal `json:"cost_basis_per_unit,omitempty"`
}

// NetWorthRow is one day of the aggregated net worth report.
type NetWorthRow struct {
	Date        string          `json:"date"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	NetWorth    decimal.Decimal `json:"net_worth"`
}

// --- Position handlers ---

// CreatePosition handles POST /api/v1/positions
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Currency == "" {
		writeError(w, "name and currency are required", http.StatusBadRequest)
		return
	}
	if req.Type != model.PositionAsset && req.Type != model.PositionLiability {
		writeError(w, "type must be asset or liability", http.StatusBadRequest)
		return
	}

	pos := &model.Position{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Currency:        req.Currency,
		Type:            req.Type,
		PriceSourceKind: req.PriceSourceKind,
		PriceSourceRef:  req.PriceSourceRef,
		TaxRate:         req.TaxRate,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.CreatePosition(r.Context(), pos); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("position created", "id", pos.ID, "name", pos.Name, "type", pos.Type)
	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions handles GET /api/v1/positions
// Returns active positions; ?include_archived=true includes archived ones.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	positions, err := s.store.ListPositions(r.Context(), includeArchived)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ArchivePosition handles DELETE /api/v1/positions/{positionID}
// Positions are soft-deleted while history exists; valuations stop at the
// archive date.
func (s *Service) ArchivePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")
	if err := s.store.ArchivePosition(r.Context(), id, time.Now().UTC()); err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	slog.Info("position archived", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Event handlers ---

// CreateEvent handles POST /api/v1/positions/{positionID}/events
// Validates the proposed event against the affected timeline window, commits
// it, then recalculates snapshots from its date forward.
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	ctx := r.Context()

	if _, err := s.store.GetPosition(ctx, positionID); err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	req, day, ok := decodeEventRequest(w, r)
	if !ok {
		return
	}

	candidate := model.Event{
		ID:          uuid.New().String(),
		PositionID:  positionID,
		Type:        req.Type,
		Date:        day,
		Quantity:    req.Quantity,
		UnitValue:   req.UnitValue,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if req.Type == model.EventReset {
		candidate.CostBasisPerUnit = req.CostBasisPerUnit
	}

	unlock := s.locks.acquire(positionID)
	defer unlock()

	window, seed, ok := s.loadWindow(w, r, positionID, day)
	if !ok {
		return
	}

	if outcome := ledger.Validate(window, candidate, seed); !outcome.Valid {
		rejectOutcome(w, outcome)
		return
	}

	if err := s.store.InsertEvent(ctx, &candidate); err != nil {
		writeError(w, "failed to record event", http.StatusInternalServerError)
		return
	}
	metrics.EventsRecorded.WithLabelValues(candidate.Type).Inc()

	if !s.recalculate(w, r, positionID, day, func() {
		// Roll back the commit so the timeline is not left without its
		// snapshot window.
		if err := s.store.DeleteEvent(ctx, candidate.ID); err != nil {
			slog.Error("rollback of committed event failed", "event", candidate.ID, "err", err)
		}
	}) {
		return
	}

	slog.Info("event recorded",
		"event", candidate.ID,
		"position", positionID,
		"type", candidate.Type,
		"date", model.DayKey(day),
		"qty", candidate.Quantity.String(),
	)
	writeJSON(w, http.StatusCreated, candidate)
}

// UpdateEvent handles PUT /api/v1/events/{eventID}
// Recalculates from the earlier of the old and new dates.
func (s *Service) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	old, err := s.store.GetEvent(ctx, chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}

	req, day, ok := decodeEventRequest(w, r)
	if !ok {
		return
	}

	edited := model.Event{
		ID:          old.ID,
		PositionID:  old.PositionID,
		Type:        req.Type,
		Date:        day,
		Quantity:    req.Quantity,
		UnitValue:   req.UnitValue,
		Description: req.Description,
		CreatedAt:   old.CreatedAt, // insertion timestamp never changes
	}
	if req.Type == model.EventReset {
		edited.CostBasisPerUnit = req.CostBasisPerUnit
	}

	affected := old.Date
	if day.Before(affected) {
		affected = day
	}

	unlock := s.locks.acquire(old.PositionID)
	defer unlock()

	window, seed, ok := s.loadWindow(w, r, old.PositionID, affected)
	if !ok {
		return
	}
	window = withoutEvent(window, old.ID)

	if outcome := ledger.Validate(window, edited, seed); !outcome.Valid {
		rejectOutcome(w, outcome)
		return
	}

	if err := s.store.UpdateEvent(ctx, &edited); err != nil {
		writeError(w, "failed to update event", http.StatusInternalServerError)
		return
	}

	if !s.recalculate(w, r, old.PositionID, affected, func() {
		if err := s.store.UpdateEvent(ctx, old); err != nil {
			slog.Error("rollback of edited event failed", "event", old.ID, "err", err)
		}
	}) {
		return
	}

	slog.Info("event updated", "event", edited.ID, "position", edited.PositionID, "from", model.DayKey(affected))
	writeJSON(w, http.StatusOK, edited)
}

// DeleteEvent handles DELETE /api/v1/events/{eventID}
// Deleting a buy may strand later sells, so removals are validated like any
// other timeline change before they are applied.
func (s *Service) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	old, err := s.store.GetEvent(ctx, chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}

	unlock := s.locks.acquire(old.PositionID)
	defer unlock()

	window, seed, ok := s.loadWindow(w, r, old.PositionID, old.Date)
	if !ok {
		return
	}
	window = withoutEvent(window, old.ID)

	if outcome := ledger.ValidateRemoval(window, seed); !outcome.Valid {
		rejectOutcome(w, outcome)
		return
	}

	if err := s.store.DeleteEvent(ctx, old.ID); err != nil {
		writeError(w, "failed to delete event", http.StatusInternalServerError)
		return
	}

	if !s.recalculate(w, r, old.PositionID, old.Date, func() {
		if err := s.store.InsertEvent(ctx, old); err != nil {
			slog.Error("rollback of deleted event failed", "event", old.ID, "err", err)
		}
	}) {
		return
	}

	slog.Info("event deleted", "event", old.ID, "position", old.PositionID, "date", model.DayKey(old.Date))
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /api/v1/positions/{positionID}/events
// Returns the position's timeline in canonical order.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	events, err := s.store.EventsFrom(r.Context(), positionID, time.Time{})
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	ledger.SortEvents(events)
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Valuation handlers ---

// GetValuations handles GET /api/v1/positions/{positionID}/valuations
// Query: from=YYYY-MM-DD&to=YYYY-MM-DD[&include_zero=false]
func (s *Service) GetValuations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pos, err := s.store.GetPosition(ctx, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	snaps, err := s.store.SnapshotsForPosition(ctx, pos.ID)
	if err != nil {
		writeError(w, "failed to load snapshots", http.StatusInternalServerError)
		return
	}

	overlay, err := s.resolveOverlay(ctx, []model.Position{*pos}, from, to)
	if err != nil {
		writeError(w, "market price source unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}

	rows := valuation.Synthesize(
		[]valuation.Series{{PositionID: pos.ID, Snapshots: snaps}},
		from, to,
		valuation.Options{
			Overlay:              overlay,
			EndCaps:              endCaps([]model.Position{*pos}),
			SkipZeroQuantityDays: r.URL.Query().Get("include_zero") == "false",
		},
	)[pos.ID]
	if rows == nil {
		rows = []model.DailyValuation{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// NetWorth handles GET /api/v1/report/networth
// Aggregates per-day totals across all positions; liabilities subtract.
func (s *Service) NetWorth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	positions, err := s.store.ListPositions(ctx, true)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	series := make([]valuation.Series, 0, len(positions))
	kinds := make(map[string]string, len(positions))
	for _, pos := range positions {
		snaps, err := s.store.SnapshotsForPosition(ctx, pos.ID)
		if err != nil {
			writeError(w, "failed to load snapshots", http.StatusInternalServerError)
			return
		}
		series = append(series, valuation.Series{PositionID: pos.ID, Snapshots: snaps})
		kinds[pos.ID] = pos.Type
	}

	overlay, err := s.resolveOverlay(ctx, positions, from, to)
	if err != nil {
		writeError(w, "market price source unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}

	byPosition := valuation.Synthesize(series, from, to, valuation.Options{
		Overlay: overlay,
		EndCaps: endCaps(positions),
	})

	type bucket struct{ assets, liabilities decimal.Decimal }
	days := make(map[string]*bucket)
	for positionID, rows := range byPosition {
		for _, row := range rows {
			key := model.DayKey(row.Date)
			b, ok := days[key]
			if !ok {
				b = &bucket{}
				days[key] = b
			}
			if kinds[positionID] == model.PositionLiability {
				b.liabilities = b.liabilities.Add(row.TotalValue)
			} else {
				b.assets = b.assets.Add(row.TotalValue)
			}
		}
	}

	report := make([]NetWorthRow, 0, len(days))
	for day := model.Day(from); !day.After(model.Day(to)); day = day.AddDate(0, 0, 1) {
		key := model.DayKey(day)
		b, ok := days[key]
		if !ok {
			continue
		}
		report = append(report, NetWorthRow{
			Date:        key,
			Assets:      b.assets,
			Liabilities: b.liabilities,
			NetWorth:    b.assets.Sub(b.liabilities),
		})
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Orchestration helpers ---

// loadWindow fetches the comparison window and replay seed for a proposed
// change. Fetch failures are reported as TIMELINE_FETCH_FAILED so callers
// can tell "we couldn't check your edit" from "your edit is invalid".
func (s *Service) loadWindow(w http.ResponseWriter, r *http.Request, positionID string, from time.Time) ([]model.Event, ledger.State, bool) {
	ctx := r.Context()

	window, err := s.store.EventsFrom(ctx, positionID, from)
	if err != nil {
		fetchFailed(w, err)
		return nil, ledger.State{}, false
	}

	seed := ledger.State{Quantity: decimal.Zero, CostBasis: decimal.Zero}
	prior, err := s.store.LatestSnapshotBefore(ctx, positionID, from)
	if err != nil {
		fetchFailed(w, err)
		return nil, ledger.State{}, false
	}
	if prior != nil {
		seed = ledger.State{Quantity: prior.Quantity, CostBasis: prior.CostBasisPerUnit}
	}
	return window, seed, true
}

// recalculate runs the replay engine and reports the outcome. Returns false
// after writing an error response; onFailure runs first for best-effort
// rollback of the triggering commit.
func (s *Service) recalculate(w http.ResponseWriter, r *http.Request, positionID string, from time.Time, onFailure func()) bool {
	start := time.Now()
	err := s.engine.Recalculate(r.Context(), positionID, from, nil)
	metrics.RecalculationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Recalculations.WithLabelValues("failed").Inc()
		slog.Error("recalculation failed", "position", positionID, "from", model.DayKey(from), "err", err)
		onFailure()
		writeOutcome(w, http.StatusInternalServerError, ledger.Outcome{
			Valid:   false,
			Code:    ledger.CodeRecalculationFailed,
			Message: "snapshot recalculation failed; the change was rolled back",
		})
		return false
	}
	metrics.Recalculations.WithLabelValues("ok").Inc()
	return true
}

func (s *Service) resolveOverlay(ctx context.Context, positions []model.Position, from, to time.Time) (pricing.Overlay, error) {
	if s.resolver == nil {
		return pricing.Overlay{}, nil
	}
	return s.resolver.Resolve(ctx, positions, from, to)
}

// --- Small helpers ---

func decodeEventRequest(w http.ResponseWriter, r *http.Request) (EventRequest, time.Time, bool) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, time.Time{}, false
	}
	day, err := model.ParseDay(req.Date)
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return req, time.Time{}, false
	}
	return req, day, true
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := model.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	to, err := model.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func withoutEvent(events []model.Event, id string) []model.Event {
	out := events[:0:0]
	for _, e := range events {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func endCaps(positions []model.Position) map[string]time.Time {
	caps := make(map[string]time.Time)
	for _, pos := range positions {
		if pos.ArchivedAt != nil {
			caps[pos.ID] = *pos.ArchivedAt
		}
	}
	return caps
}

func rejectOutcome(w http.ResponseWriter, outcome ledger.Outcome) {
	metrics.ValidationRejections.WithLabelValues(string(outcome.Code)).Inc()
	writeOutcome(w, http.StatusUnprocessableEntity, outcome)
}

func fetchFailed(w http.ResponseWriter, err error) {
	slog.Warn("timeline window fetch failed", "err", err)
	writeOutcome(w, http.StatusServiceUnavailable, ledger.Outcome{
		Valid:   false,
		Code:    ledger.CodeTimelineFetchFailed,
		Message: "could not load the timeline to check this change; try again",
	})
}

// writeOutcome writes a structured validation/recalculation outcome.
func writeOutcome(w http.ResponseWriter, status int, outcome ledger.Outcome) {
	writeJSON(w, status, outcome)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
