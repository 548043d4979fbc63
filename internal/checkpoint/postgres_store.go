package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shape-consumer/internal/offset"
)

const (
	createOffsetsTable = `CREATE TABLE IF NOT EXISTS shape_offsets (
	shape      TEXT PRIMARY KEY,
	"offset"   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	upsertOffset = `INSERT INTO shape_offsets (shape, "offset", updated_at) VALUES ($1, $2, now())
ON CONFLICT (shape) DO UPDATE SET "offset" = EXCLUDED."offset", updated_at = EXCLUDED.updated_at`
	selectOffset = `SELECT "offset" FROM shape_offsets WHERE shape = $1`
)

// Execer is the subset of *pgx.Conn and *pgxpool.Pool the store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps one row per shape in the shape_offsets table.
type PostgresStore struct {
	db    Execer
	shape string
}

func NewPostgresStore(db Execer, shape string) *PostgresStore {
	return &PostgresStore{db: db, shape: shape}
}

// EnsureTable creates the offsets table when it does not exist yet.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createOffsetsTable); err != nil {
		return fmt.Errorf("create shape_offsets: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, pos offset.Offset) error {
	if _, err := s.db.Exec(ctx, upsertOffset, s.shape, pos.String()); err != nil {
		return fmt.Errorf("postgres save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (offset.Offset, error) {
	var token string
	if err := s.db.QueryRow(ctx, selectOffset, s.shape).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return offset.Unset, nil
		}
		return offset.Unset, fmt.Errorf("postgres load checkpoint: %w", err)
	}
	pos, err := offset.Parse(token)
	if err != nil {
		return offset.Unset, fmt.Errorf("postgres checkpoint for %q: %w", s.shape, err)
	}
	return pos, nil
}
