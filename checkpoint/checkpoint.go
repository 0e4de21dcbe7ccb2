// Package checkpoint defines the durable position contract used by the
// projection engine to resume after a restart.
package checkpoint

import "context"

// Position is the count of successfully processed events for one
// (projection, partition) pair. For a fixed key it only ever increases.
type Position int64

// DefaultPartition is the reserved partition key for projections that do
// not partition their input. All events for such a projection flow through
// this single partition, strictly in publish order.
const DefaultPartition = "_default"

// Key composes the storage key for a (projection, partition) pair.
// Non-partitioned projections checkpoint under the bare projection name.
func Key(projection, partition string) string {
	if partition == "" || partition == DefaultPartition {
		return projection
	}
	return projection + ":" + partition
}

// Store persists checkpoints. Implementations must provide atomic upsert
// semantics for concurrent writers; the engine never retries store calls
// itself.
type Store interface {
	// Get returns the saved position for key, reporting whether one exists.
	Get(ctx context.Context, key string) (Position, bool, error)
	// Save upserts the position for key. It is idempotent.
	Save(ctx context.Context, key string, pos Position) error
	// Reset deletes the checkpoint for key. Resetting an absent key is a no-op.
	Reset(ctx context.Context, key string) error
}
