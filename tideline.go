// Package tideline is an in-process event-sourcing projection runtime:
// events published on the bus are routed to projection handlers through
// per-partition sequential workers with batched, crash-recoverable
// checkpoints.
package tideline

import (
	"context"

	"github.com/fluxlock/tideline/bus"
	"github.com/fluxlock/tideline/checkpoint"
	"github.com/fluxlock/tideline/projection"
)

func NewBus(opts ...bus.Option) *bus.Bus {
	return bus.New(opts...)
}

func NewRegistry() *projection.Registry {
	return projection.NewRegistry()
}

// NewEngine wires the in-memory bus as the engine's event source. Engines
// consuming a different source can use projection.NewEngine directly.
func NewEngine(
	b *bus.Bus,
	checkpoints checkpoint.Store,
	registry *projection.Registry,
	opts ...projection.EngineOption,
) *projection.Engine {
	return projection.NewEngine(busSource{bus: b}, checkpoints, registry, opts...)
}

func NewRebuilder(registry *projection.Registry, checkpoints checkpoint.Store) *projection.Rebuilder {
	return projection.NewRebuilder(registry, checkpoints)
}

type busSource struct {
	bus *bus.Bus
}

func (s busSource) Subscribe(ctx context.Context, eventType string) (projection.EventStream, error) {
	return s.bus.Subscribe(ctx, eventType)
}
