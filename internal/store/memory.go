package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	events    map[string]*model.Event
	snapshots map[string]*model.Snapshot // keyed by event id (1:1)
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
		events:    make(map[string]*model.Event),
		snapshots: make(map[string]*model.Snapshot),
	}
}

// --- Positions ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, includeArchived bool) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if !includeArchived && p.ArchivedAt != nil {
			continue
		}
		positions = append(positions, *p)
	}
	return positions, nil
}

func (s *MemoryStore) ArchivePosition(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.ArchivedAt != nil {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	when := at
	p.ArchivedAt = &when
	return nil
}

// --- Events ---

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrNotFound)
	}
	cp := *e
	cp.CreatedAt = old.CreatedAt // insertion timestamp never changes
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	delete(s.events, id)
	delete(s.snapshots, id) // derived row goes with it
	return nil
}

func (s *MemoryStore) EventsFrom(_ context.Context, positionID string, from time.Time) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.Event
	for _, e := range s.events {
		if e.PositionID != positionID {
			continue
		}
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		events = append(events, *e)
	}
	return events, nil
}

// --- Snapshots ---

func (s *MemoryStore) LatestSnapshotBefore(_ context.Context, positionID string, date time.Time) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Snapshot
	for _, snap := range s.snapshots {
		if snap.PositionID != positionID || !snap.Date.Before(date) {
			continue
		}
		if latest == nil || snapshotAfter(snap, latest) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) SnapshotsForPosition(_ context.Context, positionID string) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []model.Snapshot
	for _, snap := range s.snapshots {
		if snap.PositionID == positionID {
			snaps = append(snaps, *snap)
		}
	}
	return snaps, nil
}

func (s *MemoryStore) ReplaceSnapshots(_ context.Context, positionID string, snapshots []model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Single lock makes the rewrite atomic: readers never observe a mix of
	// old and new rows.
	for _, snap := range snapshots {
		if snap.PositionID != positionID {
			return fmt.Errorf("snapshot for event %s belongs to position %s, not %s",
				snap.EventID, snap.PositionID, positionID)
		}
		cp := snap
		s.snapshots[snap.EventID] = &cp
	}
	return nil
}

// snapshotAfter reports whether a orders after b by the canonical
// (date, created_at, id) key of the source events. EventID is the tie-break
// because snapshot ids are regenerated on every recalculation.
func snapshotAfter(a, b *model.Snapshot) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.EventID > b.EventID
}
