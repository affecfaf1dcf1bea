package reclaim

import (
	"runtime"
	"sync"
	"testing"
)

// TestQueueBasicOperations tests push and pop on a single goroutine
func TestQueueBasicOperations(t *testing.T) {
	q := newRetireQueue()

	if q.pop() != nil {
		t.Fatal("New queue should be empty")
	}

	for i := 0; i < 10; i++ {
		q.push(&retired{seq: uint64(i)})
	}

	// push signals the consumer, the signal is coalesced
	select {
	case <-q.notify:
	default:
		t.Error("Expected a pending notification after push")
	}

	for i := 0; i < 10; i++ {
		item := q.pop()
		if item == nil {
			t.Fatalf("Expected item %d, queue is empty", i)
		}
		if item.seq != uint64(i) {
			t.Errorf("Expected seq %d, got %d", i, item.seq)
		}
	}

	if q.pop() != nil {
		t.Error("Queue should be empty")
	}
}

// TestQueueConcurrentProducers verifies that no item is lost or duplicated
// and that the items of each producer keep their order
func TestQueueConcurrentProducers(t *testing.T) {
	q := newRetireQueue()

	const numProducers = 10
	const itemsPerProducer = 1000

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := uint64(producerID * itemsPerProducer)
			for i := 0; i < itemsPerProducer; i++ {
				q.push(&retired{seq: base + uint64(i), epoch: uint64(producerID)})
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	// consume while the producers are running
	received := make(map[uint64]bool)
	last := make(map[uint64]uint64)
	consume := func() {
		for item := q.pop(); item != nil; item = q.pop() {
			if received[item.seq] {
				t.Fatalf("Duplicate item received: %d", item.seq)
			}
			received[item.seq] = true
			if prev, ok := last[item.epoch]; ok && item.seq <= prev {
				t.Fatalf("Producer %d items out of order: %d after %d", item.epoch, item.seq, prev)
			}
			last[item.epoch] = item.seq
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for running := true; running; {
		select {
		case <-q.notify:
			consume()
		case <-done:
			running = false
		}
	}
	consume()

	if len(received) != numProducers*itemsPerProducer {
		t.Errorf("Expected %d items, got %d", numProducers*itemsPerProducer, len(received))
	}
}

func BenchmarkQueuePush(b *testing.B) {
	q := newRetireQueue()
	item := &retired{}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.push(item)
		}
	})
}
