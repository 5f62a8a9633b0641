package audio

import (
	"container/heap"
	"log/slog"
	"sync"
)

// Rank values for playback scheduling. Lower ranks are serviced first.
const (
	RankCritical = 0
	RankNormal   = 1
	RankLow      = 2
)

// DefaultBacklogThreshold is the queue depth above which low-rank items are
// refused admission when no explicit threshold is configured.
const DefaultBacklogThreshold = 3

// defaultQueueCap is the initial capacity hint for the priority queue.
const defaultQueueCap = 16

// PlayerOption configures a [Player] during construction.
type PlayerOption func(*Player)

// WithBacklogThreshold sets the queue depth above which rank-2 items are
// dropped at admission. Values below 1 are ignored.
func WithBacklogThreshold(n int) PlayerOption {
	return func(p *Player) {
		if n > 0 {
			p.backlogThreshold = n
		}
	}
}

// Player schedules PCM clips for playback on a single output device using a
// priority queue backed by [container/heap].
//
// Lower-rank clips preempt nothing on their own; preemption happens only via
// [Player.Interrupt], which halts the in-progress clip and drops every queued
// item above rank 0. Equal-rank clips play in FIFO order. Rank-2 admission is
// refused while the queue is deeper than the backlog threshold; rank-0 items
// are never dropped.
//
// All exported methods are safe for concurrent use.
type Player struct {
	device OutputDevice

	// devMu serializes all access to the output device between the worker
	// and PlayImmediate.
	devMu sync.Mutex

	mu               sync.Mutex
	queue            clipHeap
	seq              uint64 // monotonic counter for FIFO ordering within a rank
	backlogThreshold int
	interrupted      bool
	closed           bool

	notify chan struct{} // signalled when a new clip is enqueued
	done   chan struct{} // closed by Close to stop the worker
	wg     sync.WaitGroup

	idle *sync.Cond // broadcast when the queue drains and nothing is playing
	busy bool
}

// NewPlayer creates a Player that owns device and starts its playback worker
// immediately. Call [Player.Close] to stop the worker and release the device.
func NewPlayer(device OutputDevice, opts ...PlayerOption) *Player {
	p := &Player{
		device:           device,
		queue:            make(clipHeap, 0, defaultQueueCap),
		backlogThreshold: DefaultBacklogThreshold,
		notify:           make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	heap.Init(&p.queue)
	p.wg.Add(1)
	go p.worker()
	return p
}

// Enqueue schedules pcm for playback at the given rank. Returns false when
// the clip was refused: the player is closed, or rank is RankLow and the
// queue is already past the backlog threshold.
func (p *Player) Enqueue(pcm []byte, rank int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if rank >= RankLow && p.queue.Len() > p.backlogThreshold {
		slog.Warn("player: backlog exceeded, low-priority clip dropped",
			"depth", p.queue.Len(), "threshold", p.backlogThreshold)
		return false
	}

	p.seq++
	heap.Push(&p.queue, clip{pcm: pcm, rank: rank, seq: p.seq})
	p.busy = true

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// PlayImmediate plays pcm synchronously, bypassing the queue. It serializes
// with the worker on the device, so it blocks until any in-progress clip
// finishes or is interrupted. Used for the critical path: alert tones and
// blocking narrations.
func (p *Player) PlayImmediate(pcm []byte) error {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	return p.device.Play(pcm)
}

// Interrupt halts the in-progress clip via the device's stop primitive and
// rebuilds the queue keeping only rank-0 items. The interrupt flag also
// discards the next dequeued non-critical clip, covering an item already
// pulled off the queue by the worker.
func (p *Player) Interrupt() {
	p.mu.Lock()
	p.interrupted = true
	kept := p.queue[:0]
	for _, c := range p.queue {
		if c.rank == RankCritical {
			kept = append(kept, c)
		}
	}
	p.queue = kept
	heap.Init(&p.queue)
	p.mu.Unlock()

	p.device.Stop()
}

// QueueDepth returns the number of clips currently queued.
func (p *Player) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Available reports whether the owned output device is usable.
func (p *Player) Available() bool {
	return p.device != nil && p.device.Available()
}

// Wait blocks until the queue is empty and no clip is playing. Test helper
// and shutdown aid.
func (p *Player) Wait() {
	p.mu.Lock()
	for p.busy {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Close stops the worker, discards queued clips, and closes the device.
// Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = p.queue[:0]
	p.busy = false
	p.idle.Broadcast()
	p.mu.Unlock()

	close(p.done)
	p.device.Stop()
	p.wg.Wait()
	return p.device.Close()
}

// worker is the single playback goroutine. It pulls the highest-priority clip
// and plays it synchronously on the device.
func (p *Player) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			c, ok := p.dequeue()
			if !ok {
				break
			}

			p.devMu.Lock()
			select {
			case <-p.done:
				p.devMu.Unlock()
				return
			default:
			}
			if err := p.device.Play(c.pcm); err != nil {
				slog.Warn("player: device playback failed", "err", err)
			}
			p.devMu.Unlock()
		}
	}
}

// dequeue pops the next playable clip, honouring the interrupt flag: a
// pending interrupt discards the first non-critical clip and is consumed by
// the next dequeue either way.
func (p *Player) dequeue() (clip, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Len() > 0 {
		c := heap.Pop(&p.queue).(clip)
		if p.interrupted {
			p.interrupted = false
			if c.rank > RankCritical {
				continue
			}
		}
		return c, true
	}

	p.busy = false
	p.idle.Broadcast()
	return clip{}, false
}
