package audio

// clip wraps a PCM buffer with scheduling metadata for the playback queue.
// The seq field provides FIFO ordering within the same rank.
type clip struct {
	pcm  []byte
	rank int
	seq  uint64 // monotonic insertion order for FIFO tie-breaking
}

// clipHeap implements [container/heap.Interface] as a min-heap ordered by
// rank (ascending, critical first), with FIFO tie-breaking on seq.
type clipHeap []clip

func (h clipHeap) Len() int { return len(h) }

// Less reports whether element i should be dequeued before element j.
// Lower rank wins; equal rank falls back to insertion order.
func (h clipHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *clipHeap) Push(x any) {
	*h = append(*h, x.(clip))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
