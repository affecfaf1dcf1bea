package internal

import (
	"testing"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
)

func TestInsertLookupRemove(t *testing.T) {
	table := NewTable(2) // 4 buckets, forces chains

	for owner := uintptr(0); owner < 64; owner++ {
		table.Insert(&Entry{Owner: owner, ID: 1, Data: []byte{byte(owner)}})
		table.Insert(&Entry{Owner: owner, ID: 2, Data: []byte{byte(owner)}})
	}

	for owner := uintptr(0); owner < 64; owner++ {
		e := table.Lookup(owner, 1)
		if e == nil {
			t.Fatalf("Expected entry for <%d, 1>", owner)
		}
		if e.Data[0] != byte(owner) {
			t.Errorf("Wrong entry returned for <%d, 1>: %s", owner, e)
		}
	}

	if table.Lookup(100, 1) != nil {
		t.Error("Lookup of an unknown owner should return nil")
	}

	removed := table.Remove(10, 1)
	if removed == nil || !removed.Match(10, 1) {
		t.Fatalf("Remove returned %v, expected <10, 1>", removed)
	}
	if table.Lookup(10, 1) != nil {
		t.Error("Entry still visible after Remove")
	}
	if table.Lookup(10, 2) == nil {
		t.Error("Remove must not touch other ids of the same owner")
	}
	if table.Remove(10, 1) != nil {
		t.Error("Second Remove should return nil")
	}
}

func TestRemovedEntryKeepsNext(t *testing.T) {
	table := NewTable(0) // single chain

	a := &Entry{Owner: 1, ID: 1}
	b := &Entry{Owner: 2, ID: 1}
	c := &Entry{Owner: 3, ID: 1}
	table.Insert(a)
	table.Insert(b)
	table.Insert(c) // chain: c -> b -> a

	table.Remove(2, 1)

	// a reader standing on b must still reach a
	if b.Next.Load() != a {
		t.Fatal("Removed entry lost its successor")
	}
	if c.Next.Load() != a {
		t.Fatal("Predecessor was not relinked")
	}
}

func TestRemoveIf(t *testing.T) {
	table := NewTable(3)

	for owner := uintptr(0); owner < 100; owner++ {
		table.Insert(&Entry{Owner: owner, ID: shadow.TypeID(owner % 3)})
	}

	var seen []uintptr
	n := table.RemoveIf(func(e *Entry) bool { return e.ID == 0 }, func(e *Entry) {
		seen = append(seen, e.Owner)
	})

	if n != 34 || len(seen) != 34 {
		t.Fatalf("Expected 34 removed entries, got %d (callback %d)", n, len(seen))
	}

	count := 0
	table.Scan(func(bucket int, e *Entry) {
		if e.ID == 0 {
			t.Errorf("Entry %s should have been removed", e)
		}
		if bucket < 0 || bucket >= table.Len() {
			t.Errorf("Bucket index %d out of range", bucket)
		}
		count++
	})
	if count != 66 {
		t.Errorf("Expected 66 remaining entries, got %d", count)
	}
}
