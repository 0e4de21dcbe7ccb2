// Package projection implements the projection engine: live events are
// routed to registered handlers through per-partition sequential workers,
// with bounded per-projection concurrency and batched, crash-recoverable
// checkpoints.
package projection

import (
	"context"

	"github.com/fluxlock/tideline/event"
)

// Projection consumes events routed by the engine and updates a derived
// read model. Handle must be idempotent: delivery is at-least-once across
// restarts.
type Projection interface {
	// Name identifies the projection. It is the checkpoint key prefix and
	// must be stable across restarts.
	Name() string
	// EventTypes returns the event names this projection consumes.
	EventTypes() []string
	Handle(ctx context.Context, e event.Event) error
}

// PartitionedProjection derives an independent, strictly-ordered partition
// per event. Events with the same key are processed sequentially in publish
// order; different keys may interleave arbitrarily, bounded only by the
// projection's parallelism cap.
//
// Projections that do not implement PartitionedProjection run on a single
// default partition and therefore see all their events in publish order.
type PartitionedProjection interface {
	Projection
	// PartitionKey must return a non-empty key. An error or an empty key is
	// a routing error for that single event, not a fatal engine error.
	PartitionKey(e event.Event) (string, error)
}

// OptionsProvider lets a projection declare its own options. Options passed
// to RegisterWithOptions take precedence over declared ones.
type OptionsProvider interface {
	ProjectionOptions() Options
}
