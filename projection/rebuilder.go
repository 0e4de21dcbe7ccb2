package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxlock/tideline/checkpoint"
)

var (
	ErrEmptyProjectionName = errors.New("projection name must not be empty")
	ErrEmptyPartition      = errors.New("partition key must not be empty")
)

// Rebuilder clears projection checkpoints so a restarted engine replays
// from scratch. It does not stop or restart a running engine; callers
// restart the engine process to pick up the cleared state.
type Rebuilder struct {
	registry    *Registry
	checkpoints checkpoint.Store
}

func NewRebuilder(registry *Registry, checkpoints checkpoint.Store) *Rebuilder {
	return &Rebuilder{
		registry:    registry,
		checkpoints: checkpoints,
	}
}

// ResetProjection deletes the checkpoint stored under the bare projection
// key, i.e. the default partition of a non-partitioned projection.
func (r *Rebuilder) ResetProjection(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyProjectionName
	}

	if err := r.checkpoints.Reset(ctx, checkpoint.Key(name, checkpoint.DefaultPartition)); err != nil {
		return fmt.Errorf("reset projection %q: %w", name, err)
	}
	return nil
}

// ResetPartition deletes the checkpoint for one partition of a projection.
func (r *Rebuilder) ResetPartition(ctx context.Context, name string, partitionKey string) error {
	if name == "" {
		return ErrEmptyProjectionName
	}
	if partitionKey == "" {
		return ErrEmptyPartition
	}

	if err := r.checkpoints.Reset(ctx, checkpoint.Key(name, partitionKey)); err != nil {
		return fmt.Errorf("reset projection %q partition %q: %w", name, partitionKey, err)
	}
	return nil
}

// ResetAllProjections resets every registered projection, best-effort: one
// failure does not abort the rest, and all failures are reported joined.
func (r *Rebuilder) ResetAllProjections(ctx context.Context) error {
	var errs []error
	for _, name := range r.RegisteredProjections() {
		if err := r.ResetProjection(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisteredProjections returns the distinct, lexicographically sorted
// projection names known to the registry.
func (r *Rebuilder) RegisteredProjections() []string {
	return r.registry.ProjectionNames()
}
