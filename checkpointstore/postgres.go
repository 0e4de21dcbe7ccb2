package checkpointstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/fluxlock/tideline/checkpoint"
)

var _ checkpoint.Store = new(Postgres)

//go:embed postgresmigrations/*.sql
var postgresMigrations embed.FS

// Postgres is a checkpoint store backed by PostgreSQL, using UPSERT to keep
// exactly one row per (projection, partition) key. Schema management is
// handled via goose migrations, run on startup unless skipped.
type Postgres struct {
	db             *sql.DB
	skipMigrations bool
	gooseLogger    goose.Logger
}

type PostgresOption func(*Postgres)

// PostgresSkipMigrations prevents the store from running database
// migrations on startup, for environments where migrations are handled by
// a separate process.
func PostgresSkipMigrations() PostgresOption {
	return func(p *Postgres) {
		p.skipMigrations = true
	}
}

// PostgresMigrationsLogger sets the logger goose uses during migrations.
// It defaults to a no-op logger.
func PostgresMigrationsLogger(logger goose.Logger) PostgresOption {
	return func(p *Postgres) {
		if logger == nil {
			return
		}
		p.gooseLogger = logger
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		db:             db,
		skipMigrations: false,
		gooseLogger:    goose.NopLogger(),
	}

	for _, o := range opts {
		o(p)
	}

	if p.skipMigrations {
		return p, nil
	}

	goose.SetBaseFS(postgresMigrations)
	goose.SetLogger(p.gooseLogger)

	if err := goose.SetDialect("pgx"); err != nil {
		return nil, fmt.Errorf("new postgres checkpoint store: set dialect: %w", err)
	}
	if err := goose.Up(db, "postgresmigrations"); err != nil {
		return nil, fmt.Errorf("new postgres checkpoint store: run migrations: %w", err)
	}

	return p, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (checkpoint.Position, bool, error) {
	var pos checkpoint.Position
	err := p.db.QueryRowContext(
		ctx,
		"SELECT position FROM tideline_checkpoints WHERE key = $1",
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

func (p *Postgres) Save(ctx context.Context, key string, pos checkpoint.Position) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tideline_checkpoints (key, position) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			position   = EXCLUDED.position,
			updated_at = now()`,
		key, pos,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Reset(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(
		ctx,
		"DELETE FROM tideline_checkpoints WHERE key = $1",
		key,
	)
	if err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", key, err)
	}
	return nil
}
