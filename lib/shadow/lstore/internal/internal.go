package internal

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/ValentinKolb/shadowvar/lib/util"
)

// --------------------------------------------------------------------------
// Entry Type (one attached shadow variable)
// --------------------------------------------------------------------------

// Entry is one shadow variable. Owner, ID and Data never change after the
// entry was inserted, only Next is modified (by writers holding the write lock).
type Entry struct {
	Next  atomic.Pointer[Entry]
	Owner uintptr
	ID    shadow.TypeID
	Data  []byte // full pooled capacity, callers only see it clipped to len
}

// Match returns whether the entry belongs to <owner, id>
func (e *Entry) Match(owner uintptr, id shadow.TypeID) bool {
	return e.Owner == owner && e.ID == id
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{Owner: %#x, ID: %d, Size: %d}", e.Owner, e.ID, len(e.Data))
}

// --------------------------------------------------------------------------
// Table Type (bucketed hashtable of entries)
// --------------------------------------------------------------------------

// Table is a fixed size hashtable of singly linked entry chains, keyed by owner.
//
// Thread-safety: Readers (Lookup, Scan) may run concurrently with one writer
// (Insert, Remove, RemoveIf) as long as they are inside a reclaim read section.
// Writers must be serialised by the caller. Removed entries keep their Next
// pointer so that a reader standing on one can continue its scan.
type Table struct {
	bits    uint
	seed    uint64
	buckets []atomic.Pointer[Entry]
}

// NewTable creates a table with 1<<bits buckets
func NewTable(bits uint) *Table {
	return &Table{
		bits:    bits,
		seed:    util.GenerateSeed(),
		buckets: make([]atomic.Pointer[Entry], 1<<bits),
	}
}

// Len returns the number of buckets
func (t *Table) Len() int {
	return len(t.buckets)
}

// bucket returns the chain head for owner
func (t *Table) bucket(owner uintptr) *atomic.Pointer[Entry] {
	return &t.buckets[util.BucketIndex(util.HashOwner(owner, t.seed), t.bits)]
}

// Lookup returns the entry for <owner, id> or nil.
func (t *Table) Lookup(owner uintptr, id shadow.TypeID) *Entry {
	for e := t.bucket(owner).Load(); e != nil; e = e.Next.Load() {
		if e.Match(owner, id) {
			return e
		}
	}
	return nil
}

// Insert publishes e at the head of its chain. e must be fully initialized,
// readers may see it as soon as the head is stored.
func (t *Table) Insert(e *Entry) {
	head := t.bucket(e.Owner)
	e.Next.Store(head.Load())
	head.Store(e)
}

// Remove unlinks and returns the entry for <owner, id>, or nil if there is none.
func (t *Table) Remove(owner uintptr, id shadow.TypeID) *Entry {
	link := t.bucket(owner)
	for e := link.Load(); e != nil; e = e.Next.Load() {
		if e.Match(owner, id) {
			link.Store(e.Next.Load())
			return e
		}
		link = &e.Next
	}
	return nil
}

// RemoveIf unlinks every entry matching pred and calls fn on it right after
// it was unlinked. Returns the number of removed entries.
func (t *Table) RemoveIf(pred func(e *Entry) bool, fn func(e *Entry)) int {
	removed := 0
	for i := range t.buckets {
		link := &t.buckets[i]
		for e := link.Load(); e != nil; {
			next := e.Next.Load()
			if pred(e) {
				link.Store(next)
				fn(e)
				removed++
			} else {
				link = &e.Next
			}
			e = next
		}
	}
	return removed
}

// Scan calls fn for every entry together with its bucket index.
func (t *Table) Scan(fn func(bucket int, e *Entry)) {
	for i := range t.buckets {
		for e := t.buckets[i].Load(); e != nil; e = e.Next.Load() {
			fn(i, e)
		}
	}
}
