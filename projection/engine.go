package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxlock/tideline/checkpoint"
	"github.com/fluxlock/tideline/event"
	"github.com/fluxlock/tideline/internal/assert"
)

var (
	ErrEngineAlreadyRunning = errors.New("engine is already running")
	ErrEmptyPartitionKey    = errors.New("partition key must not be empty")
)

// EventStream is one live subscription. Events yields events in publish
// order until the stream ends; Err must only be read after the channel is
// closed and reports why the stream ended (nil for clean cancellation).
type EventStream interface {
	Events() <-chan event.Event
	Err() error
}

// EventSource is the engine's view of the event bus.
type EventSource interface {
	// Subscribe opens a live stream of events of the given type, yielding
	// events published after subscription begins.
	Subscribe(ctx context.Context, eventType string) (EventStream, error)
}

// DeadLetter describes one event that exhausted its retry budget. The
// partition's checkpoint advances past dead-lettered events, so the sink is
// the only place they survive.
type DeadLetter struct {
	Projection string
	Partition  string
	Event      event.Event
	Err        error
	Attempts   int
}

type DeadLetterFunc func(ctx context.Context, dl DeadLetter)

type OnSaveCheckpointErrFunc = func(ctx context.Context, err error) error

const (
	DefaultQueueCapacity     = 256
	DefaultFinalFlushTimeout = 5 * time.Second
)

// Engine routes live events to registered projections through per-partition
// sequential workers. It runs until its context is cancelled.
type Engine struct {
	source      EventSource
	checkpoints checkpoint.Store
	registry    *Registry

	// configurable
	log                 *slog.Logger
	queueCap            int
	finalFlushTimeout   time.Duration
	deadLetter          DeadLetterFunc
	onSaveCheckpointErr OnSaveCheckpointErrFunc

	mu      sync.Mutex
	workers map[string]*partitionWorker
	wg      sync.WaitGroup
	running atomic.Bool
}

type EngineOption func(*Engine)

func WithSlogHandler(handler slog.Handler) EngineOption {
	return func(e *Engine) {
		if handler == nil {
			e.log = slog.New(slog.DiscardHandler)
			return
		}
		e.log = slog.New(handler)
	}
}

// WithQueueCapacity sets the per-partition queue capacity. A full queue
// blocks the event-type pump, which backpressures the subscription.
func WithQueueCapacity(n int) EngineOption {
	return func(e *Engine) {
		e.queueCap = n
	}
}

// WithFinalFlushTimeout bounds the checkpoint save each worker performs for
// its partial batch during shutdown.
func WithFinalFlushTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.finalFlushTimeout = d
	}
}

// WithDeadLetterFunc sets the sink for events that exhausted their retry
// budget. The default sink logs them at error level.
func WithDeadLetterFunc(fn DeadLetterFunc) EngineOption {
	return func(e *Engine) {
		if fn == nil {
			return
		}
		e.deadLetter = fn
	}
}

func WithOnSaveCheckpointErrFunc(errFunc OnSaveCheckpointErrFunc) EngineOption {
	return func(e *Engine) {
		if errFunc == nil {
			return
		}
		e.onSaveCheckpointErr = errFunc
	}
}

func NewEngine(
	source EventSource,
	checkpoints checkpoint.Store,
	registry *Registry,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		source:              source,
		checkpoints:         checkpoints,
		registry:            registry,
		log:                 slog.Default(),
		queueCap:            DefaultQueueCapacity,
		finalFlushTimeout:   DefaultFinalFlushTimeout,
		deadLetter:          nil,
		onSaveCheckpointErr: func(ctx context.Context, err error) error { return nil },
		workers:             make(map[string]*partitionWorker),
	}

	for _, o := range opts {
		o(e)
	}

	assert.That(e.queueCap > 0, "engine: queue capacity must be positive, got %d", e.queueCap)

	if e.deadLetter == nil {
		e.deadLetter = func(ctx context.Context, dl DeadLetter) {
			e.log.ErrorContext(ctx, "Event exhausted retries, dead-lettered",
				"projection", dl.Projection,
				"partition", dl.Partition,
				"event_type", dl.Event.EventName(),
				"attempts", dl.Attempts,
				"error", dl.Err,
			)
		}
	}

	return e
}

// Run subscribes to every registered event type and routes events until ctx
// is cancelled or a subscription fails fatally. In both cases it first
// closes every partition queue, drains the already-accepted tail of work
// and flushes partial checkpoint batches. A cancelled context is a clean
// shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineAlreadyRunning
	}

	e.registry.seal()

	eventTypes := e.registry.EventTypes()
	if len(eventTypes) == 0 {
		e.log.InfoContext(ctx, "No projections registered, engine will not run.")
		return nil
	}

	// Workers must keep draining after cancellation, so their context does
	// not carry the run context's cancellation.
	drainCtx := context.WithoutCancel(ctx)

	grp, gctx := errgroup.WithContext(ctx)
	for _, eventType := range eventTypes {
		grp.Go(func() error {
			return e.pump(gctx, drainCtx, eventType)
		})
	}

	pumpErr := grp.Wait()

	e.mu.Lock()
	workers := make([]*partitionWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		close(w.queue)
	}
	e.wg.Wait()

	var errs []error
	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
		errs = append(errs, pumpErr)
	}
	for _, w := range workers {
		if w.err != nil {
			errs = append(errs, w.err)
		}
	}
	return errors.Join(errs...)
}

// pump consumes one event type's live stream and routes every event.
func (e *Engine) pump(ctx context.Context, drainCtx context.Context, eventType string) error {
	stream, err := e.source.Subscribe(ctx, eventType)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", eventType, err)
	}

	e.log.InfoContext(ctx, "Subscribed to event type", "event_type", eventType)

	for ev := range stream.Events() {
		e.route(ctx, drainCtx, eventType, ev)
	}

	if serr := stream.Err(); serr != nil && !errors.Is(serr, context.Canceled) {
		return fmt.Errorf("subscription %q: %w", eventType, serr)
	}
	return ctx.Err()
}

// route hands one event to every projection registered for its type.
// Routing failures are per-projection and non-fatal; the affected
// partition's checkpoint simply does not advance for this event.
func (e *Engine) route(ctx context.Context, drainCtx context.Context, eventType string, ev event.Event) {
	for _, reg := range e.registry.registrationsFor(eventType) {
		partitionKey := checkpoint.DefaultPartition

		if pp, ok := reg.projection.(PartitionedProjection); ok {
			key, err := pp.PartitionKey(ev)
			if err == nil && key == "" {
				err = ErrEmptyPartitionKey
			}
			if err != nil {
				e.log.ErrorContext(ctx, "Failed to derive partition key, event skipped for this projection",
					"projection", reg.resolved.Name,
					"event_type", eventType,
					"error", err,
				)
				continue
			}
			partitionKey = key
		}

		w := e.workerFor(drainCtx, reg, partitionKey)

		select {
		case w.queue <- workItem{ev: ev}:
		case <-ctx.Done():
			// Shutting down: pumps stop accepting new work. Anything
			// already queued is still drained.
			e.log.DebugContext(ctx, "Engine stopping, event not enqueued",
				"projection", reg.resolved.Name,
				"partition", partitionKey,
			)
			return
		}
	}
}

// workerFor returns the worker for (projection, partition), creating it
// lazily on first use. Workers live until the engine shuts down.
func (e *Engine) workerFor(drainCtx context.Context, reg *registration, partitionKey string) *partitionWorker {
	id := reg.resolved.Name + ":" + partitionKey

	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workers[id]; ok {
		return w
	}

	w := newPartitionWorker(e, reg, partitionKey)
	e.workers[id] = w

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(drainCtx)
	}()

	return w
}
