package summarize

import (
	"sync"
	"time"

	"github.com/echovoice/echo/internal/event"
)

// Batcher coalesces consecutive tool_executed events into one narration.
// A batch flushes when it reaches maxSize, when the window elapses since its
// first event, or when the owner flushes explicitly (a non-tool event arrived
// or the summarizer is stopping). The window timer is cancelled on explicit
// flush and never fires twice for the same batch.
type Batcher struct {
	window  time.Duration
	maxSize int
	emit    func(event.Narration)

	mu    sync.Mutex
	batch []event.Activity
	timer *time.Timer
	gen   uint64 // incremented on every flush; stale timers compare against it
}

// NewBatcher creates a Batcher that renders each flushed batch and hands the
// narration to emit.
func NewBatcher(window time.Duration, maxSize int, emit func(event.Narration)) *Batcher {
	return &Batcher{window: window, maxSize: maxSize, emit: emit}
}

// Add appends a tool_executed event to the current batch, flushing inline
// when the batch is full. The first event of a batch arms the window timer.
func (b *Batcher) Add(ev event.Activity) {
	b.mu.Lock()
	b.batch = append(b.batch, ev)

	if len(b.batch) >= b.maxSize {
		narration, ok := b.flushLocked()
		b.mu.Unlock()
		if ok {
			b.emit(narration)
		}
		return
	}

	if len(b.batch) == 1 {
		gen := b.gen
		b.timer = time.AfterFunc(b.window, func() { b.timerFired(gen) })
	}
	b.mu.Unlock()
}

// Flush renders and emits the pending batch, if any. Safe to call at any
// time, including when the batch is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	narration, ok := b.flushLocked()
	b.mu.Unlock()
	if ok {
		b.emit(narration)
	}
}

// Len returns the number of events waiting in the current batch.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// timerFired handles window expiry. A generation mismatch means the batch it
// was armed for has already flushed; the timer does nothing.
func (b *Batcher) timerFired(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	narration, ok := b.flushLocked()
	b.mu.Unlock()
	if ok {
		b.emit(narration)
	}
}

// flushLocked renders the pending batch and resets state. Called with b.mu
// held; the returned narration is emitted after the lock is released.
func (b *Batcher) flushLocked() (event.Narration, bool) {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.batch) == 0 {
		return event.Narration{}, false
	}
	batch := b.batch
	b.batch = nil
	return RenderBatch(batch), true
}
