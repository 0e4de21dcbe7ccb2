// Package bus provides the in-memory event bus consumed by the projection
// engine: synchronous direct handlers plus live subscriptions with bounded,
// drop-oldest buffers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fluxlock/tideline/event"
	"github.com/fluxlock/tideline/internal/assert"
)

var ErrBusClosed = errors.New("event bus is closed")

const DefaultSubscriptionBuffer = 128

// HandlerFunc is a direct handler, invoked synchronously on every Publish
// of its event type, before Publish returns.
type HandlerFunc func(ctx context.Context, e event.Event) error

type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]*Subscription
	handlers map[string][]HandlerFunc
	closed   bool

	bufSize int
	log     *slog.Logger
}

type Option func(*Bus)

// WithSubscriptionBuffer sets the per-subscription channel capacity. When a
// subscriber falls behind by more than this many events, the oldest buffered
// event is dropped to make room for the newest.
func WithSubscriptionBuffer(n int) Option {
	return func(b *Bus) {
		b.bufSize = n
	}
}

func WithSlogHandler(handler slog.Handler) Option {
	return func(b *Bus) {
		if handler == nil {
			b.log = slog.New(slog.DiscardHandler)
			return
		}
		b.log = slog.New(handler)
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		mu:       sync.RWMutex{},
		subs:     make(map[string][]*Subscription),
		handlers: make(map[string][]HandlerFunc),
		closed:   false,
		bufSize:  DefaultSubscriptionBuffer,
		log:      slog.Default(),
	}

	for _, o := range opts {
		o(b)
	}

	assert.That(b.bufSize > 0, "bus: subscription buffer must be positive, got %d", b.bufSize)

	return b
}

// Handle registers a direct handler for eventType. Direct handlers are
// awaited on every Publish; their errors are returned to the publisher.
func (b *Bus) Handle(eventType string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers each event to the direct handlers of its type, then
// fans it out to every live subscription of that type. Fan-out never
// blocks: a full subscription drops its oldest buffered event.
//
// Handlers run outside the bus lock, so they may subscribe, unsubscribe or
// publish themselves.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, e := range events {
		name := e.EventName()

		b.mu.RLock()
		if b.closed {
			b.mu.RUnlock()
			return ErrBusClosed
		}
		handlers := slices.Clone(b.handlers[name])
		subs := slices.Clone(b.subs[name])
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h(ctx, e); err != nil {
				errs = append(errs, fmt.Errorf("publish %q: direct handler: %w", name, err))
			}
		}

		for _, sub := range subs {
			b.deliver(sub, e)
		}
	}

	return errors.Join(errs...)
}

func (b *Bus) deliver(sub *Subscription, e event.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	// The subscription may have ended between the snapshot and now.
	if sub.done {
		return
	}

	select {
	case sub.ch <- e:
		return
	default:
	}

	// Full: evict the oldest buffered event, then try once more. Losing
	// the race to another publisher just means the newest event is the
	// one dropped instead.
	evicted := false
	select {
	case <-sub.ch:
		evicted = true
	default:
	}

	sent := false
	select {
	case sub.ch <- e:
		sent = true
	default:
	}

	if evicted || !sent {
		sub.dropped.Add(1)
		b.log.Warn("subscription buffer full, dropped event",
			"event_type", sub.eventType,
			"dropped_total", sub.dropped.Load(),
		)
	}
}

// Subscribe opens a live stream of events of the given type, starting with
// events published after Subscribe returns. The stream's channel is closed
// when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, eventType string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		bus:       b,
		eventType: eventType,
		ch:        make(chan event.Event, b.bufSize),
	}
	b.subs[eventType] = append(b.subs[eventType], sub)

	go func() {
		<-ctx.Done()
		b.remove(sub, nil)
	}()

	return sub, nil
}

// SubscriberCount reports the number of live subscriptions for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Close terminates every live subscription with ErrBusClosed and rejects
// further publishes and subscribes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close(ErrBusClosed)
		}
	}
	b.subs = make(map[string][]*Subscription)
}

func (b *Bus) remove(sub *Subscription, cause error) {
	b.mu.Lock()
	subs := b.subs[sub.eventType]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.close(cause)
}

// Subscription is a live, bounded stream of one event type.
type Subscription struct {
	bus       *Bus
	eventType string
	ch        chan event.Event
	dropped   atomic.Uint64

	// mu guards ch sends against close; err and done are written under it.
	mu   sync.Mutex
	err  error
	done bool
}

// close ends the subscription once; later calls are no-ops.
func (s *Subscription) close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.err = cause
	close(s.ch)
	s.done = true
}

func (s *Subscription) EventType() string {
	return s.eventType
}

// Events yields events in publish order. The channel is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Err reports why the subscription ended. It is nil for a clean shutdown
// (context cancellation) and must only be read after Events is closed.
func (s *Subscription) Err() error {
	return s.err
}

// Dropped reports how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe ends the subscription before its context is cancelled.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s, nil)
}
