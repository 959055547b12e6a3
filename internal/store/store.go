// Package store defines the persistence boundary for the position ledger.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing). The ledger core never performs durable I/O of its own; it only
// talks to this interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// ErrNotFound is returned when a requested position or event does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for positions, events, and the derived
// snapshot rows.
type Store interface {
	// --- Positions ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositions returns all positions, optionally including archived ones.
	ListPositions(ctx context.Context, includeArchived bool) ([]model.Position, error)

	// ArchivePosition soft-deletes a position; its history stays intact.
	ArchivePosition(ctx context.Context, id string, at time.Time) error

	// --- Events ---

	// InsertEvent appends a timeline event.
	InsertEvent(ctx context.Context, e *model.Event) error

	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// UpdateEvent rewrites an edited event in place (same id).
	UpdateEvent(ctx context.Context, e *model.Event) error

	// DeleteEvent removes an event together with its derived snapshot.
	DeleteEvent(ctx context.Context, id string) error

	// EventsFrom returns all events for a position dated on or after from.
	// A zero from returns the whole timeline. Order is not guaranteed;
	// callers sort canonically.
	EventsFrom(ctx context.Context, positionID string, from time.Time) ([]model.Event, error)

	// --- Snapshots (derived, rebuildable) ---

	// LatestSnapshotBefore returns the most recent snapshot strictly before
	// date, or nil when the position has no prior history.
	LatestSnapshotBefore(ctx context.Context, positionID string, date time.Time) (*model.Snapshot, error)

	// SnapshotsForPosition returns every snapshot for a position.
	SnapshotsForPosition(ctx context.Context, positionID string) ([]model.Snapshot, error)

	// ReplaceSnapshots atomically rewrites the snapshot rows for the events
	// covered by the given snapshots (matched by event id). A partial write
	// must be impossible.
	ReplaceSnapshots(ctx context.Context, positionID string, snapshots []model.Snapshot) error
}
