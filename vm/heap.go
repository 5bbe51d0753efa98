package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// Heap accounting
// ---------------------------------------------------------------------------

// The VM does not manage storage itself; the Go runtime does. What the heap
// counters track is the refcount discipline: every slot allocation retains
// one unit, every count-to-zero releases one. A balanced program drives the
// live counter back to zero after Reset, which is the invariant the tests
// lean on.

var (
	heapLive  atomic.Int64
	heapTotal atomic.Int64
)

// HeapStats is a point-in-time view of the slot heap.
type HeapStats struct {
	Live  int64 // slots with a positive reference count
	Total int64 // slots ever allocated
}

// ReadHeapStats returns the current heap counters. The Void sentinel is not
// counted.
func ReadHeapStats() HeapStats {
	return HeapStats{
		Live:  heapLive.Load(),
		Total: heapTotal.Load(),
	}
}

func allocSlot() *Slot {
	heapRetain()
	return &Slot{Type: TypeVoid, refs: 1}
}

func heapRetain() {
	heapLive.Add(1)
	heapTotal.Add(1)
}

func heapRelease() {
	heapLive.Add(-1)
}
