// Package bus provides the in-process fan-out publish–subscribe primitive
// connecting Echo's pipeline stages.
//
// Each subscription owns an independent bounded buffer. Emitting never blocks
// on a slow consumer: when a subscription's buffer is full the event is
// dropped for that subscription only, a warning is logged, and delivery
// proceeds to the remaining subscriptions.
package bus

import (
	"log/slog"
	"sync"
)

// DefaultBufferSize is the per-subscription channel capacity used when no
// explicit size is configured.
const DefaultBufferSize = 256

// Option configures a [Bus] during construction.
type Option[T any] func(*Bus[T])

// WithBufferSize sets the per-subscription buffer capacity. Values below 1
// are ignored.
func WithBufferSize[T any](n int) Option[T] {
	return func(b *Bus[T]) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithDropHandler registers fn to be invoked (synchronously, from the
// emitter's goroutine) every time an event is dropped for a full
// subscription. Used to feed drop counters.
func WithDropHandler[T any](fn func(T)) Option[T] {
	return func(b *Bus[T]) {
		b.onDrop = fn
	}
}

// Subscription is one consumer's view of a [Bus]. Events arrive on C in
// emission order; accepted events are never reordered or duplicated.
type Subscription[T any] struct {
	ch chan T
}

// C returns the receive channel for this subscription. The channel is closed
// when the subscription is removed from the bus.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Bus is a fan-out publish–subscribe primitive parameterized over the event
// shape. All methods are safe for concurrent use.
type Bus[T any] struct {
	name    string
	bufSize int
	onDrop  func(T)

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
	drops uint64
}

// New creates a Bus. name appears in drop warnings to distinguish the
// activity, narration, and response buses in logs.
func New[T any](name string, opts ...Option[T]) *Bus[T] {
	b := &Bus[T]{
		name:    name,
		bufSize: DefaultBufferSize,
		subs:    make(map[*Subscription[T]]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers and returns a new independent subscription.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, b.bufSize)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus and closes its channel. Unsubscribing
// an unknown or already-removed subscription is a no-op.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Emit delivers evt to every currently-registered subscription. A snapshot of
// the subscription set is taken under the lock so concurrent Subscribe and
// Unsubscribe calls during delivery are safe. Emit never blocks on a slow
// consumer and never returns an error to the caller.
func (b *Bus[T]) Emit(evt T) {
	b.mu.Lock()
	snapshot := make([]*Subscription[T], 0, len(b.subs))
	for sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.ch <- evt:
		default:
			b.mu.Lock()
			b.drops++
			drops := b.drops
			b.mu.Unlock()
			slog.Warn("bus: subscriber buffer full, event dropped",
				"bus", b.name, "total_drops", drops)
			if b.onDrop != nil {
				b.onDrop(evt)
			}
		}
	}
}

// SubscriberCount returns the number of currently-registered subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// DropCount returns the total number of per-subscription drops since the bus
// was created.
func (b *Bus[T]) DropCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}
