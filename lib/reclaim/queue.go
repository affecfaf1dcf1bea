package reclaim

import (
	"runtime"
	"sync/atomic"
)

// node is a single element of the retire queue
type node struct {
	item *retired
	next atomic.Pointer[node]
}

// retireQueue is a lock-free multi-producer single-consumer queue of retired items.
// Producers (writers retiring entries) append with CAS on the tail, the collector
// goroutine is the only consumer and pops from the head without atomics on head.
//
// Items pushed by one goroutine are popped in push order. Items pushed by
// different goroutines are ordered by whichever CAS on the tail succeeded first.
type retireQueue struct {
	head *node // consumer only
	tail atomic.Pointer[node]

	// notify wakes the consumer, it holds at most one pending signal
	notify chan struct{}
}

func newRetireQueue() *retireQueue {
	sentinel := &node{}
	q := &retireQueue{
		head:   sentinel,
		notify: make(chan struct{}, 1),
	}
	q.tail.Store(sentinel)
	return q
}

// push appends an item to the queue. It never blocks on the consumer.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *retireQueue) push(item *retired) {
	n := &node{item: item}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already helped, that's fine
				q.tail.CompareAndSwap(tail, n)
				break
			}
		} else {
			// another producer appended but did not move the tail yet, help it
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		// lost the race for the tail, back off before retrying
		if backoff < 6 {
			backoff++
		}
		for i := 0; i < 1<<backoff; i++ {
			runtime.Gosched()
		}
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest item, or returns nil if the queue is empty.
//
// Thread-safety: Only the single consumer may call this method.
func (q *retireQueue) pop() *retired {
	next := q.head.next.Load()
	if next == nil {
		return nil
	}
	item := next.item
	next.item = nil // the node becomes the new sentinel, drop the reference
	q.head = next
	return item
}
