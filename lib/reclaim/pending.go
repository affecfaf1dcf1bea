package reclaim

import "container/heap"

// pendingHeap holds retired items that wait for older readers, ordered by the
// epoch they were retired in (then by retire sequence). The collector peeks at
// the oldest item to decide whether anything can be released.
//
// Thread-safety: Not thread-safe, only the collector goroutine touches it
// (after Close the late drain under lateMu).
type pendingHeap struct {
	items []*retired
}

// Len returns the number of pending items (part of heap.Interface)
func (h *pendingHeap) Len() int { return len(h.items) }

// Less orders by epoch, ties by sequence (part of heap.Interface)
func (h *pendingHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.epoch != b.epoch {
		return a.epoch < b.epoch
	}
	return a.seq < b.seq
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *pendingHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

// Push adds an item (part of heap.Interface, use add instead)
func (h *pendingHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*retired))
}

// Pop removes the last item (part of heap.Interface, use popOlderThan instead)
func (h *pendingHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid holding on to the release closure
	h.items = old[:n-1]
	return item
}

func (h *pendingHeap) add(item *retired) {
	heap.Push(h, item)
}

// popOlderThan removes and returns the oldest item if it was retired before epoch.
func (h *pendingHeap) popOlderThan(epoch uint64) (*retired, bool) {
	if len(h.items) == 0 || h.items[0].epoch >= epoch {
		return nil, false
	}
	return heap.Pop(h).(*retired), true
}

// popMarker removes and returns the oldest item if it is a barrier marker.
// Every item ahead of it has been released already.
func (h *pendingHeap) popMarker() (*retired, bool) {
	if len(h.items) == 0 || h.items[0].done == nil {
		return nil, false
	}
	return heap.Pop(h).(*retired), true
}
