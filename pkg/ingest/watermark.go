package ingest

import (
	"container/heap"
	"sync"
)

// WatermarkTracker maintains the conservative resume watermark: the minimum
// in-flight entry index minus one. A crash can then only replay entries,
// never skip one, because everything at or below the watermark is durable.
type WatermarkTracker struct {
	mu       sync.Mutex
	inflight uint32Heap
	done     map[uint32]struct{}
	maxAdded uint32
	any      bool
}

func NewWatermarkTracker() *WatermarkTracker {
	return &WatermarkTracker{done: make(map[uint32]struct{})}
}

// Add registers an entry index as in-flight. The producer calls this before
// submitting the task.
func (t *WatermarkTracker) Add(index uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	heap.Push(&t.inflight, index)
	if !t.any || index > t.maxAdded {
		t.maxAdded = index
	}
	t.any = true
}

// Complete marks an index as durably handled (written or deliberately
// dropped). Idempotent.
func (t *WatermarkTracker) Complete(index uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done[index] = struct{}{}
}

// Watermark returns the current conservative watermark. ok is false while
// nothing can be claimed durable yet (no completions, or index 0 still in
// flight).
func (t *WatermarkTracker) Watermark() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Lazily drop completed indices off the top of the heap.
	for t.inflight.Len() > 0 {
		top := t.inflight[0]
		if _, finished := t.done[top]; !finished {
			break
		}
		delete(t.done, top)
		heap.Pop(&t.inflight)
	}

	if t.inflight.Len() > 0 {
		min := t.inflight[0]
		if min == 0 {
			return 0, false
		}
		return min - 1, true
	}
	if !t.any {
		return 0, false
	}
	return t.maxAdded, true
}

// Inflight returns the number of indices added but not completed.
func (t *WatermarkTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight.Len() - len(t.done)
}

type uint32Heap []uint32

func (h uint32Heap) Len() int            { return len(h) }
func (h uint32Heap) Less(i, j int) bool  { return h[i] < h[j] }
func (h uint32Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *uint32Heap) Push(x interface{}) { *h = append(*h, x.(uint32)) }
func (h *uint32Heap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
