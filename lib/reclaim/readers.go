package reclaim

import (
	"sync"
	"sync/atomic"
)

// idle is the announcement of a slot whose reader is outside any section
const idle = ^uint64(0)

// readerSlot announces the epoch its reader entered the current section in.
// A slot belongs to at most one reader at a time. The padding keeps slots of
// different readers on separate cache lines.
type readerSlot struct {
	epoch atomic.Uint64
	owned atomic.Bool
	next  *readerSlot // immutable once the slot is published
	_     [40]byte
}

// readerRegistry holds every reader slot ever created. Slots are never
// unlinked, a released slot is picked up again by the next reader finding it.
//
// Thread-safety: All methods are thread-safe.
type readerRegistry struct {
	head  atomic.Pointer[readerSlot]
	size  atomic.Int64
	cache sync.Pool // released slots, only a hint
}

// acquire returns a slot owned by the caller. The cache is tried first, then
// the registry is scanned for a released slot. A new slot is only allocated
// when every existing one is in use.
func (rr *readerRegistry) acquire() *readerSlot {
	if s, ok := rr.cache.Get().(*readerSlot); ok && s.owned.CompareAndSwap(false, true) {
		return s
	}

	for s := rr.head.Load(); s != nil; s = s.next {
		if !s.owned.Load() && s.owned.CompareAndSwap(false, true) {
			return s
		}
	}

	s := &readerSlot{}
	s.epoch.Store(idle)
	s.owned.Store(true)
	for {
		head := rr.head.Load()
		s.next = head
		if rr.head.CompareAndSwap(head, s) {
			rr.size.Add(1)
			return s
		}
	}
}

// release hands a slot back, its reader must already have announced idle
func (rr *readerRegistry) release(s *readerSlot) {
	s.owned.Store(false)
	rr.cache.Put(s)
}

// oldest returns the smallest epoch announced by a reader inside a section
// (idle if there is none) and the number of readers inside a section.
func (rr *readerRegistry) oldest() (uint64, int64) {
	min, active := idle, int64(0)
	for s := rr.head.Load(); s != nil; s = s.next {
		if e := s.epoch.Load(); e != idle {
			active++
			if e < min {
				min = e
			}
		}
	}
	return min, active
}
