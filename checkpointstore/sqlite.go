package checkpointstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fluxlock/tideline/checkpoint"
)

var _ checkpoint.Store = new(Sqlite)

// Sqlite is a checkpoint store backed by a SQLite database, one row per
// (projection, partition) key. Saves are idempotent upserts.
type Sqlite struct {
	db *sql.DB
}

func NewSqlite(db *sql.DB) (*Sqlite, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tideline_checkpoints (
			key      TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		);`); err != nil {
		return nil, fmt.Errorf("new sqlite checkpoint store: create table failed: %w", err)
	}

	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Get(ctx context.Context, key string) (checkpoint.Position, bool, error) {
	var pos checkpoint.Position
	err := s.db.QueryRowContext(
		ctx,
		"SELECT position FROM tideline_checkpoints WHERE key = ?",
		key,
	).Scan(&pos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get checkpoint %q: %w", key, err)
	}
	return pos, true, nil
}

func (s *Sqlite) Save(ctx context.Context, key string, pos checkpoint.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tideline_checkpoints (key, position) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET position = excluded.position`,
		key, pos,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return nil
}

func (s *Sqlite) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(
		ctx,
		"DELETE FROM tideline_checkpoints WHERE key = ?",
		key,
	)
	if err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", key, err)
	}
	return nil
}
