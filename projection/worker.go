package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"

	"github.com/fluxlock/tideline/checkpoint"
	"github.com/fluxlock/tideline/event"
)

type workItem struct {
	ev event.Event
}

// partitionWorker drains one (projection, partition) FIFO queue. A single
// goroutine per worker gives strict in-order processing within the
// partition; the projection-wide semaphore bounds how many partitions of
// the same projection invoke their handler at once.
type partitionWorker struct {
	projection          Projection
	opts                Options
	partition           string
	key                 string
	queue               chan workItem
	sem                 *semaphore.Weighted
	checkpoints         checkpoint.Store
	log                 *slog.Logger
	deadLetter          DeadLetterFunc
	onSaveCheckpointErr OnSaveCheckpointErrFunc
	finalFlushTimeout   time.Duration

	// Owned by the worker goroutine.
	position   checkpoint.Position
	sinceFlush int
	lastFlush  time.Time
	parked     bool

	// err is read by the engine only after the worker goroutine exits.
	err error
}

func newPartitionWorker(e *Engine, reg *registration, partitionKey string) *partitionWorker {
	//nolint:exhaustruct // Runtime state starts zeroed.
	return &partitionWorker{
		projection:          reg.projection,
		opts:                reg.resolved,
		partition:           partitionKey,
		key:                 checkpoint.Key(reg.resolved.Name, partitionKey),
		queue:               make(chan workItem, e.queueCap),
		sem:                 reg.sem,
		checkpoints:         e.checkpoints,
		log:                 e.log,
		deadLetter:          e.deadLetter,
		onSaveCheckpointErr: e.onSaveCheckpointErr,
		finalFlushTimeout:   e.finalFlushTimeout,
	}
}

// run drains the queue until it is closed, then flushes any partial batch.
// ctx never carries the engine's cancellation; end-of-input is signaled by
// closing the queue.
func (w *partitionWorker) run(ctx context.Context) {
	w.restore(ctx)
	w.lastFlush = time.Now()

	if w.parked {
		// The starting position is unknown, so processing from zero would
		// let a later flush rewind the durable checkpoint. Discard the
		// queue; w.err surfaces the cause when the engine stops.
		w.log.WarnContext(ctx, "Partition parked, discarding queued events",
			"projection", w.opts.Name,
			"partition", w.partition,
		)
		for range w.queue { //nolint:revive // drain until closed
		}
		return
	}

	for item := range w.queue {
		w.process(ctx, item)
	}

	if w.sinceFlush == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, w.finalFlushTimeout)
	defer cancel()

	w.log.InfoContext(flushCtx, "Worker stopping, saving final checkpoint",
		"projection", w.opts.Name,
		"partition", w.partition,
		"position", w.position,
	)
	w.flush(flushCtx)
}

// restore resolves the starting position according to the startup mode.
func (w *partitionWorker) restore(ctx context.Context) {
	switch w.opts.StartupMode {
	case StartupResume:
		var (
			pos checkpoint.Position
			ok  bool
		)
		//nolint:gosec // RetryAttempts is normalized to a small positive value.
		err := retry.Do(
			func() error {
				var gerr error
				pos, ok, gerr = w.checkpoints.Get(ctx, w.key)
				return gerr
			},
			retry.Attempts(uint(w.opts.RetryAttempts)),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			// Without the saved position, processing from zero would let a
			// later flush overwrite the checkpoint with a lower value. Park
			// the partition instead.
			w.log.ErrorContext(ctx, "Failed to load initial checkpoint, parking partition",
				"projection", w.opts.Name,
				"partition", w.partition,
				"error", err,
			)
			w.err = fmt.Errorf("projection %q partition %q: get checkpoint: %w",
				w.opts.Name, w.partition, err)
			w.parked = true
			return
		}
		if ok {
			w.position = pos
		}
		w.log.InfoContext(ctx, "Loaded initial checkpoint",
			"projection", w.opts.Name,
			"partition", w.partition,
			"position", w.position,
		)

	case StartupReplay:
		if err := w.checkpoints.Reset(ctx, w.key); err != nil {
			w.log.ErrorContext(ctx, "Failed to reset checkpoint for replay",
				"projection", w.opts.Name,
				"partition", w.partition,
				"error", err,
			)
			w.err = fmt.Errorf("projection %q partition %q: reset checkpoint: %w",
				w.opts.Name, w.partition, err)
		}

	case StartupCatchUp, StartupLiveOnly:
		// No checkpoint lookup: only events published after subscribing.
	}
}

func (w *partitionWorker) process(ctx context.Context, item workItem) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		// ctx outlives the engine's cancellation, so this only happens when
		// the process itself is dying. Record the event before it is lost.
		w.deadLetter(ctx, DeadLetter{
			Projection: w.opts.Name,
			Partition:  w.partition,
			Event:      item.ev,
			Err:        err,
			Attempts:   0,
		})
		return
	}

	err := w.invoke(ctx, item.ev)
	w.sem.Release(1)

	if err != nil {
		w.log.ErrorContext(ctx, "Handler failed after retries, dead-lettering event",
			"projection", w.opts.Name,
			"partition", w.partition,
			"event_type", item.ev.EventName(),
			"error", err,
		)
		w.deadLetter(ctx, DeadLetter{
			Projection: w.opts.Name,
			Partition:  w.partition,
			Event:      item.ev,
			Err:        err,
			Attempts:   w.opts.RetryAttempts,
		})
	}

	// The position advances for dead-lettered events too: the sink owns
	// them now, and the partition must not wedge on a poison event.
	w.position++
	w.sinceFlush++

	if w.opts.CheckpointPolicy.ShouldCheckpoint(FlushInfo{
		EventsSinceLastSave: w.sinceFlush,
		TimeSinceLastSave:   time.Since(w.lastFlush),
	}) {
		w.flush(ctx)
	}
}

func (w *partitionWorker) invoke(ctx context.Context, ev event.Event) error {
	//nolint:gosec // RetryAttempts is normalized to a small positive value.
	return retry.Do(
		func() error {
			return w.projection.Handle(ctx, ev)
		},
		retry.Attempts(uint(w.opts.RetryAttempts)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// flush persists the current position. On failure the since-flush counter
// is kept, so the next successful save covers the gap.
func (w *partitionWorker) flush(ctx context.Context) {
	if err := w.checkpoints.Save(ctx, w.key, w.position); err != nil {
		w.log.ErrorContext(ctx, "Failed to save checkpoint",
			"projection", w.opts.Name,
			"partition", w.partition,
			"position", w.position,
			"error", err,
		)
		if herr := w.onSaveCheckpointErr(ctx, err); herr != nil {
			w.err = errors.Join(w.err, fmt.Errorf("projection %q partition %q: save checkpoint: %w",
				w.opts.Name, w.partition, herr))
		}
		return
	}

	w.sinceFlush = 0
	w.lastFlush = time.Now()

	w.log.DebugContext(ctx, "Saved checkpoint",
		"projection", w.opts.Name,
		"partition", w.partition,
		"position", w.position,
	)
}
