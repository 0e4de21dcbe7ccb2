package checkpointstore

import (
	"context"
	"sync"

	"github.com/fluxlock/tideline/checkpoint"
)

var _ checkpoint.Store = new(Memory)

// Memory is an in-memory checkpoint store, suitable for tests and for
// projections whose read models are themselves in-memory and rebuilt on
// every start.
type Memory struct {
	mu        sync.RWMutex
	positions map[string]checkpoint.Position
}

func NewMemory() *Memory {
	return &Memory{
		mu:        sync.RWMutex{},
		positions: make(map[string]checkpoint.Position),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (checkpoint.Position, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[key]
	return pos, ok, nil
}

func (m *Memory) Save(ctx context.Context, key string, pos checkpoint.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[key] = pos
	return nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.positions, key)
	return nil
}
