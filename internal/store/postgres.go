package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities and monetary values are stored as NUMERIC for exact decimal
// precision; event dates are DATE columns (calendar days, no time-of-day).
//
// Expected schema:
//
//	positions (id TEXT PK, name TEXT, currency TEXT, type TEXT,
//	           price_source_kind TEXT, price_source_ref TEXT,
//	           tax_rate NUMERIC NULL, created_at TIMESTAMPTZ,
//	           archived_at TIMESTAMPTZ NULL)
//	events    (id TEXT PK, position_id TEXT REFERENCES positions,
//	           type TEXT, date DATE, quantity NUMERIC, unit_value NUMERIC,
//	           description TEXT, cost_basis_per_unit NUMERIC NULL,
//	           created_at TIMESTAMPTZ)
//	snapshots (id TEXT PK, position_id TEXT, event_id TEXT UNIQUE
//	           REFERENCES events ON DELETE CASCADE, date DATE,
//	           quantity NUMERIC, unit_value NUMERIC,
//	           cost_basis_per_unit NUMERIC, created_at TIMESTAMPTZ)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Positions ---

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	var taxRate *string
	if p.TaxRate != nil {
		v := p.TaxRate.String()
		taxRate = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, name, currency, type, price_source_kind, price_source_ref, tax_rate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)`,
		p.ID, p.Name, p.Currency, p.Type, p.PriceSourceKind, p.PriceSourceRef, taxRate, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, currency, type, price_source_kind, price_source_ref,
		        tax_rate::TEXT, created_at, archived_at
		 FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, includeArchived bool) ([]model.Position, error) {
	q := `SELECT id, name, currency, type, price_source_kind, price_source_ref,
	             tax_rate::TEXT, created_at, archived_at
	      FROM positions`
	if !includeArchived {
		q += ` WHERE archived_at IS NULL`
	}
	q += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ArchivePosition(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET archived_at = $2 WHERE id = $1 AND archived_at IS NULL`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	var basis *string
	if e.CostBasisPerUnit != nil {
		v := e.CostBasisPerUnit.String()
		basis = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, position_id, type, date, quantity, unit_value, description, cost_basis_per_unit, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9)`,
		e.ID, e.PositionID, e.Type, e.Date,
		e.Quantity.String(), e.UnitValue.String(),
		e.Description, basis, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, position_id, type, date, quantity::TEXT, unit_value::TEXT,
		        description, cost_basis_per_unit::TEXT, created_at
		 FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *model.Event) error {
	var basis *string
	if e.CostBasisPerUnit != nil {
		v := e.CostBasisPerUnit.String()
		basis = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE events
		 SET type = $2, date = $3, quantity = $4::NUMERIC, unit_value = $5::NUMERIC,
		     description = $6, cost_basis_per_unit = $7::NUMERIC
		 WHERE id = $1`,
		e.ID, e.Type, e.Date, e.Quantity.String(), e.UnitValue.String(), e.Description, basis,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	// The snapshot row goes with it via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) EventsFrom(ctx context.Context, positionID string, from time.Time) ([]model.Event, error) {
	q := `SELECT id, position_id, type, date, quantity::TEXT, unit_value::TEXT,
	             description, cost_basis_per_unit::TEXT, created_at
	      FROM events WHERE position_id = $1`
	args := []any{positionID}
	if !from.IsZero() {
		q += ` AND date >= $2`
		args = append(args, from)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// --- Snapshots ---

func (s *PostgresStore) LatestSnapshotBefore(ctx context.Context, positionID string, date time.Time) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, position_id, event_id, date, quantity::TEXT, unit_value::TEXT,
		        cost_basis_per_unit::TEXT, created_at
		 FROM snapshots
		 WHERE position_id = $1 AND date < $2
		 ORDER BY date DESC, created_at DESC, event_id DESC
		 LIMIT 1`, positionID, date)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // no prior history
		}
		return nil, fmt.Errorf("latest snapshot before %s: %w", model.DayKey(date), err)
	}
	return snap, nil
}

func (s *PostgresStore) SnapshotsForPosition(ctx context.Context, positionID string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, event_id, date, quantity::TEXT, unit_value::TEXT,
		        cost_basis_per_unit::TEXT, created_at
		 FROM snapshots WHERE position_id = $1`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// ReplaceSnapshots rewrites the snapshot rows for the covered events in a
// single transaction so a recalculation can never half-apply.
func (s *PostgresStore) ReplaceSnapshots(ctx context.Context, positionID string, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	eventIDs := make([]string, len(snapshots))
	for i, snap := range snapshots {
		eventIDs[i] = snap.EventID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace snapshots: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM snapshots WHERE position_id = $1 AND event_id = ANY($2)`,
		positionID, eventIDs,
	); err != nil {
		return fmt.Errorf("replace snapshots: delete: %w", err)
	}

	for _, snap := range snapshots {
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshots (id, position_id, event_id, date, quantity, unit_value, cost_basis_per_unit, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
			snap.ID, snap.PositionID, snap.EventID, snap.Date,
			snap.Quantity.String(), snap.UnitValue.String(), snap.CostBasisPerUnit.String(),
			snap.CreatedAt,
		); err != nil {
			return fmt.Errorf("replace snapshots: insert event %s: %w", snap.EventID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace snapshots: commit: %w", err)
	}
	return nil
}

// --- Row scanning ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var taxRate *string
	if err := row.Scan(&p.ID, &p.Name, &p.Currency, &p.Type,
		&p.PriceSourceKind, &p.PriceSourceRef,
		&taxRate, &p.CreatedAt, &p.ArchivedAt); err != nil {
		return nil, err
	}
	if taxRate != nil {
		rate, _ := decimal.NewFromString(*taxRate)
		p.TaxRate = &rate
	}
	return &p, nil
}

func scanEvent(row pgxRow) (*model.Event, error) {
	var e model.Event
	var qty, unit string
	var basis *string
	if err := row.Scan(&e.ID, &e.PositionID, &e.Type, &e.Date,
		&qty, &unit, &e.Description, &basis, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Quantity, _ = decimal.NewFromString(qty)
	e.UnitValue, _ = decimal.NewFromString(unit)
	if basis != nil {
		b, _ := decimal.NewFromString(*basis)
		e.CostBasisPerUnit = &b
	}
	e.Date = model.Day(e.Date)
	return &e, nil
}

func scanSnapshot(row pgxRow) (*model.Snapshot, error) {
	var snap model.Snapshot
	var qty, unit, basis string
	if err := row.Scan(&snap.ID, &snap.PositionID, &snap.EventID, &snap.Date,
		&qty, &unit, &basis, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.Quantity, _ = decimal.NewFromString(qty)
	snap.UnitValue, _ = decimal.NewFromString(unit)
	snap.CostBasisPerUnit, _ = decimal.NewFromString(basis)
	snap.Date = model.Day(snap.Date)
	return &snap, nil
}
