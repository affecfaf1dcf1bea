package reclaim

import (
	"math/rand"
	"testing"
)

// TestPendingOrder tests that items come out ordered by epoch, then sequence
func TestPendingOrder(t *testing.T) {
	var h pendingHeap

	h.add(&retired{seq: 1, epoch: 3})
	h.add(&retired{seq: 2, epoch: 1})
	h.add(&retired{seq: 3, epoch: 2})
	h.add(&retired{seq: 0, epoch: 1})

	expected := []struct{ epoch, seq uint64 }{{1, 0}, {1, 2}, {2, 3}, {3, 1}}
	for _, e := range expected {
		item, ok := h.popOlderThan(10)
		if !ok {
			t.Fatalf("Expected item (%d, %d), heap is empty", e.epoch, e.seq)
		}
		if item.epoch != e.epoch || item.seq != e.seq {
			t.Errorf("Expected (%d, %d), got (%d, %d)", e.epoch, e.seq, item.epoch, item.seq)
		}
	}

	if h.Len() != 0 {
		t.Errorf("Heap should be empty, has %d items", h.Len())
	}
}

// TestPendingPopOlderThan tests that only items retired before the epoch are returned
func TestPendingPopOlderThan(t *testing.T) {
	var h pendingHeap

	for i := 0; i < 100; i++ {
		h.add(&retired{seq: uint64(i), epoch: uint64(rand.Intn(10))})
	}

	count := 0
	for {
		item, ok := h.popOlderThan(5)
		if !ok {
			break
		}
		if item.epoch >= 5 {
			t.Fatalf("popOlderThan(5) returned an item of epoch %d", item.epoch)
		}
		count++
	}

	for _, item := range h.items {
		if item.epoch < 5 {
			t.Errorf("Item of epoch %d was left behind", item.epoch)
		}
	}
	if count+h.Len() != 100 {
		t.Errorf("Lost items: popped %d, remaining %d", count, h.Len())
	}

	if _, ok := (&pendingHeap{}).popOlderThan(100); ok {
		t.Error("Empty heap should return nothing")
	}
}

func TestPendingPopMarker(t *testing.T) {
	var h pendingHeap
	marker := &retired{seq: 2, epoch: 2, done: make(chan struct{})}
	h.add(&retired{seq: 1, epoch: 1, release: func() {}})
	h.add(marker)

	if _, ok := h.popMarker(); ok {
		t.Fatal("Marker popped while an older item was pending")
	}
	if _, ok := h.popOlderThan(2); !ok {
		t.Fatal("Expected the item of epoch 1")
	}
	item, ok := h.popMarker()
	if !ok || item != marker {
		t.Fatal("Expected the marker once nothing older was pending")
	}
}
