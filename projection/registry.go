package projection

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrRegistrySealed = errors.New("registry is read-only once the engine is running")

// registration binds one projection to its options. The same registration
// is shared between all event-type buckets of that projection, so resolved
// options and the parallelism semaphore are projection-wide.
type registration struct {
	projection Projection
	explicit   *Options

	// Filled in when the registry is sealed.
	resolved Options
	sem      *semaphore.Weighted
}

// Registry is the append-only mapping from event types to the projections
// that consume them. Writes happen at composition time, before the engine
// starts; reads are concurrent once it runs.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]*registration
	byName map[string]*registration
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{
		mu:     sync.RWMutex{},
		byType: make(map[string][]*registration),
		byName: make(map[string]*registration),
		sealed: false,
	}
}

// Register adds a projection under its own name with default options.
// Registering the same name again is idempotent: the first registration
// wins and only missing event types are added.
func (r *Registry) Register(p Projection) error {
	return r.register(p, nil)
}

// RegisterWithOptions adds a projection with explicitly provided options,
// which take precedence over any options the projection declares itself.
func (r *Registry) RegisterWithOptions(p Projection, opts Options) error {
	return r.register(p, &opts)
}

func (r *Registry) register(p Projection, explicit *Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}

	name := p.Name()
	if explicit != nil && explicit.Name != "" {
		name = explicit.Name
	}
	if name == "" {
		return ErrEmptyProjectionName
	}

	reg, ok := r.byName[name]
	if !ok {
		reg = &registration{
			projection: p,
			explicit:   explicit,
		}
		r.byName[name] = reg
	}

	for _, eventType := range reg.projection.EventTypes() {
		if eventType == "" {
			return fmt.Errorf("projection %q: empty event type", name)
		}
		if !slices.Contains(r.byType[eventType], reg) {
			r.byType[eventType] = append(r.byType[eventType], reg)
		}
	}

	return nil
}

// EventTypes returns the distinct, sorted set of event types with at least
// one registered projection.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byType))
}

// ProjectionNames returns the distinct, lexicographically sorted set of
// registered projection names.
func (r *Registry) ProjectionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}

// HandlersFor returns the projections registered for an event type.
func (r *Registry) HandlersFor(eventType string) []Projection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.byType[eventType]
	projections := make([]Projection, len(regs))
	for i, reg := range regs {
		projections[i] = reg.projection
	}
	return projections
}

// Options returns the explicitly registered options for a projection name,
// reporting whether any were registered.
func (r *Registry) Options(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok || reg.explicit == nil {
		var zero Options
		return zero, false
	}
	return *reg.explicit, true
}

func (r *Registry) registrationsFor(eventType string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[eventType]
}

// seal freezes the registry, resolves every registration's options and
// creates the per-projection parallelism semaphores. Idempotent.
func (r *Registry) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}
	r.sealed = true

	for _, reg := range r.byName {
		reg.resolved = resolveOptions(reg.projection, reg.explicit)
		reg.sem = semaphore.NewWeighted(int64(reg.resolved.MaxParallelism))
	}
}
