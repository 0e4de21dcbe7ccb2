package checkpointstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/fluxlock/tideline/checkpoint"
)

var _ checkpoint.Store = new(Pebble)

var pebbleCheckpointKeyPrefix = []byte("cp/")

const uint64sizeBytes = 8

// Pebble is a checkpoint store backed by a pebble key-value database.
// Positions are stored as big-endian uint64 values under "cp/{key}".
type Pebble struct {
	db *pebble.DB
}

func NewPebble(db *pebble.DB) *Pebble {
	return &Pebble{db: db}
}

func (p *Pebble) Get(ctx context.Context, key string) (checkpoint.Position, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	value, closer, err := p.db.Get(pebbleKeyFor(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get checkpoint %q: %w", key, err)
	}
	defer closer.Close()

	if len(value) != uint64sizeBytes {
		return 0, false, fmt.Errorf("get checkpoint %q: malformed value of %d bytes", key, len(value))
	}

	//nolint:gosec // Positions are never negative.
	return checkpoint.Position(binary.BigEndian.Uint64(value)), true, nil
}

func (p *Pebble) Save(ctx context.Context, key string, pos checkpoint.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value := make([]byte, uint64sizeBytes)
	//nolint:gosec // Positions are never negative.
	binary.BigEndian.PutUint64(value, uint64(pos))

	if err := p.db.Set(pebbleKeyFor(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Delete is a no-op for absent keys.
	if err := p.db.Delete(pebbleKeyFor(key), pebble.Sync); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", key, err)
	}
	return nil
}

func pebbleKeyFor(key string) []byte {
	out := make([]byte, 0, len(pebbleCheckpointKeyPrefix)+len(key))
	out = append(out, pebbleCheckpointKeyPrefix...)
	out = append(out, key...)
	return out
}
