package testing

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
)

// StoreFactory is a function that creates a new instance of an IStore implementation
type StoreFactory func() shadow.IStore

// RunStoreTests runs a comprehensive test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AllocGetFree", func(t *testing.T) {
			testAllocGetFree(t, factory())
		})

		t.Run("FreeAll", func(t *testing.T) {
			testFreeAll(t, factory())
		})

		t.Run("GetOrAlloc", func(t *testing.T) {
			testGetOrAlloc(t, factory())
		})

		t.Run("Constructor", func(t *testing.T) {
			testConstructor(t, factory())
		})

		t.Run("ConstructorFailure", func(t *testing.T) {
			testConstructorFailure(t, factory())
		})

		t.Run("Destructor", func(t *testing.T) {
			testDestructor(t, factory())
		})

		t.Run("Registration", func(t *testing.T) {
			testRegistration(t, factory())
		})

		t.Run("RegistrationMisuse", func(t *testing.T) {
			testRegistrationMisuse(t, factory())
		})

		t.Run("UnregisteredType", func(t *testing.T) {
			testUnregisteredType(t, factory())
		})

		t.Run("CallbackReentrancy", func(t *testing.T) {
			testCallbackReentrancy(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentAlloc", func(t *testing.T) {
			testConcurrentAlloc(t, factory())
		})

		t.Run("ConcurrentGetOrAlloc", func(t *testing.T) {
			testConcurrentGetOrAlloc(t, factory())
		})

		t.Run("ConcurrentReadersAndWriters", func(t *testing.T) {
			testConcurrentReadersAndWriters(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory())
		})

		t.Run("ScenarioA", func(t *testing.T) {
			testScenarioA(t, factory())
		})

		t.Run("ScenarioB", func(t *testing.T) {
			testScenarioB(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// sameData reports whether a and b are the same buffer (not just equal bytes)
func sameData(a, b []byte) bool {
	return unsafe.SliceData(a) == unsafe.SliceData(b) && len(a) == len(b)
}

// mustRegister registers t and fails the test on error
func mustRegister(t *testing.T, store shadow.IStore, typ *shadow.Type) {
	t.Helper()
	if err := store.Register(typ); err != nil {
		t.Fatalf("Register(%d) failed: %v", typ.ID, err)
	}
}

// mustAlloc allocates and fails the test on error
func mustAlloc(t *testing.T, store shadow.IStore, owner uintptr, typ *shadow.Type, size int, arg any) []byte {
	t.Helper()
	data, err := store.Alloc(owner, typ, size, arg)
	if err != nil {
		t.Fatalf("Alloc(%#x, %d) failed: %v", owner, typ.ID, err)
	}
	return data
}

// fillOwner is a constructor writing the low byte of the owner into every byte
func fillOwner(owner uintptr, data []byte, _ any) error {
	for i := range data {
		data[i] = byte(owner)
	}
	return nil
}

// typeInfo returns the info of id or false
func typeInfo(store shadow.IStore, id shadow.TypeID) (shadow.TypeInfo, bool) {
	for _, ti := range store.GetInfo().Types {
		if ti.ID == id {
			return ti, true
		}
	}
	return shadow.TypeInfo{}, false
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAllocGetFree(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 1, Ctor: fillOwner}
	mustRegister(t, store, typ)

	owners := []uintptr{0x1000, 0x2000, 0x3008, 0xdeadbeef}
	allocated := make(map[uintptr][]byte)
	for _, owner := range owners {
		allocated[owner] = mustAlloc(t, store, owner, typ, 16, nil)
	}

	for _, owner := range owners {
		data, ok := store.Get(owner, typ)
		if !ok {
			t.Fatalf("Expected shadow variable for owner %#x", owner)
		}
		if !sameData(data, allocated[owner]) {
			t.Errorf("Get(%#x) returned a different buffer than Alloc", owner)
		}
		if !bytes.Equal(data, bytes.Repeat([]byte{byte(owner)}, 16)) {
			t.Errorf("Unexpected data for owner %#x: %v", owner, data)
		}
	}

	// writes through the returned buffer are visible to later lookups
	allocated[0x1000][0] = 42
	if data, _ := store.Get(0x1000, typ); data[0] != 42 {
		t.Errorf("Expected write through the returned buffer to be visible, got %d", data[0])
	}

	store.Free(0x1000, typ)
	if _, ok := store.Get(0x1000, typ); ok {
		t.Error("Expected no shadow variable after Free")
	}
	for _, owner := range owners[1:] {
		if _, ok := store.Get(owner, typ); !ok {
			t.Errorf("Free of 0x1000 removed the variable of %#x", owner)
		}
	}

	// freeing a missing variable is a no-op
	store.Free(0x1000, typ)
	store.Free(0x9999, typ)

	// the key can be used again
	data := mustAlloc(t, store, 0x1000, typ, 4, nil)
	if len(data) != 4 {
		t.Errorf("Expected 4 bytes, got %d", len(data))
	}

	store.Unregister(typ)
}

func testFreeAll(t *testing.T, store shadow.IStore) {
	defer store.Close()

	t1 := &shadow.Type{ID: 1}
	t2 := &shadow.Type{ID: 2}
	mustRegister(t, store, t1)
	mustRegister(t, store, t2)

	const numOwners = 500
	for i := uintptr(0); i < numOwners; i++ {
		owner := 0x10000 + i*8
		mustAlloc(t, store, owner, t1, 8, nil)
		mustAlloc(t, store, owner, t2, 8, nil)
	}

	store.FreeAll(t1)

	for i := uintptr(0); i < numOwners; i++ {
		owner := 0x10000 + i*8
		if _, ok := store.Get(owner, t1); ok {
			t.Fatalf("Variable <%#x, 1> survived FreeAll", owner)
		}
		if _, ok := store.Get(owner, t2); !ok {
			t.Fatalf("FreeAll(1) removed variable <%#x, 2>", owner)
		}
	}

	// FreeAll on an empty type is a no-op
	store.FreeAll(t1)

	store.Unregister(t1)
	store.Unregister(t2)
}

func testGetOrAlloc(t *testing.T, store shadow.IStore) {
	defer store.Close()

	var calls atomic.Int32
	typ := &shadow.Type{ID: 3, Ctor: func(owner uintptr, data []byte, arg any) error {
		calls.Add(1)
		return fillOwner(owner, data, arg)
	}}
	mustRegister(t, store, typ)

	first, err := store.GetOrAlloc(0x4000, typ, 32, nil)
	if err != nil {
		t.Fatalf("GetOrAlloc failed: %v", err)
	}
	second, err := store.GetOrAlloc(0x4000, typ, 32, nil)
	if err != nil {
		t.Fatalf("Second GetOrAlloc failed: %v", err)
	}

	if !sameData(first, second) {
		t.Error("Expected GetOrAlloc to return the identical buffer twice")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected the constructor to run once, ran %d times", calls.Load())
	}

	// GetOrAlloc returns a variable created by Alloc and vice versa
	allocated := mustAlloc(t, store, 0x5000, typ, 8, nil)
	got, err := store.GetOrAlloc(0x5000, typ, 8, nil)
	if err != nil || !sameData(allocated, got) {
		t.Errorf("GetOrAlloc did not return the variable created by Alloc (err: %v)", err)
	}
	if _, err := store.Alloc(0x4000, typ, 32, nil); !errors.Is(err, shadow.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry for Alloc after GetOrAlloc, got %v", err)
	}

	store.Unregister(typ)
}

func testConstructor(t *testing.T, store shadow.IStore) {
	defer store.Close()

	type ctorCall struct {
		owner  uintptr
		arg    any
		length int
		zeroed bool
	}
	var call ctorCall

	typ := &shadow.Type{ID: 4, Ctor: func(owner uintptr, data []byte, arg any) error {
		zeroed := true
		for _, b := range data {
			if b != 0 {
				zeroed = false
			}
		}
		call = ctorCall{owner: owner, arg: arg, length: len(data), zeroed: zeroed}
		copy(data, arg.([]byte))
		return nil
	}}
	mustRegister(t, store, typ)

	// a recycled buffer must be zero-filled again before the constructor runs
	for i := 0; i < 10; i++ {
		data := mustAlloc(t, store, 0x6000, typ, 24, []byte("constructed"))
		if call.owner != 0x6000 || call.length != 24 || !call.zeroed {
			t.Fatalf("Unexpected constructor call: %+v", call)
		}
		if !bytes.HasPrefix(data, []byte("constructed")) {
			t.Fatalf("Expected constructed data, got %q", data)
		}
		store.Free(0x6000, typ)
	}

	// without constructor the buffer is zero-filled
	plain := &shadow.Type{ID: 5}
	mustRegister(t, store, plain)
	data := mustAlloc(t, store, 0x6000, plain, 64, nil)
	if !bytes.Equal(data, make([]byte, 64)) {
		t.Errorf("Expected a zero-filled buffer, got %v", data)
	}

	store.Unregister(typ)
	store.Unregister(plain)
}

func testConstructorFailure(t *testing.T, store shadow.IStore) {
	defer store.Close()

	cause := errors.New("ctor refused")
	fail := true
	typ := &shadow.Type{ID: 6, Ctor: func(owner uintptr, data []byte, arg any) error {
		if fail {
			return cause
		}
		return nil
	}}
	mustRegister(t, store, typ)

	data, err := store.Alloc(0x7000, typ, 8, nil)
	if data != nil {
		t.Errorf("Expected no data on constructor failure, got %v", data)
	}
	if !errors.Is(err, shadow.ErrConstructorFailed) {
		t.Errorf("Expected ErrConstructorFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected the constructor error to be wrapped, got %v", err)
	}
	if _, ok := store.Get(0x7000, typ); ok {
		t.Error("A variable whose constructor failed must not be inserted")
	}

	if _, err := store.GetOrAlloc(0x7000, typ, 8, nil); !errors.Is(err, shadow.ErrConstructorFailed) {
		t.Errorf("Expected ErrConstructorFailed from GetOrAlloc, got %v", err)
	}

	// the key stays usable
	fail = false
	mustAlloc(t, store, 0x7000, typ, 8, nil)
	if _, ok := store.Get(0x7000, typ); !ok {
		t.Error("Expected variable after a successful retry")
	}

	store.Unregister(typ)
}

func testDestructor(t *testing.T, store shadow.IStore) {
	defer store.Close()

	var mu sync.Mutex
	destroyed := make(map[uintptr][]byte)
	typ := &shadow.Type{
		ID:   7,
		Ctor: fillOwner,
		Dtor: func(owner uintptr, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			destroyed[owner] = append([]byte(nil), data...)
		},
	}
	mustRegister(t, store, typ)

	mustAlloc(t, store, 0x11, typ, 4, nil)
	mustAlloc(t, store, 0x22, typ, 4, nil)
	mustAlloc(t, store, 0x33, typ, 4, nil)

	// Free
	store.Free(0x11, typ)
	if !bytes.Equal(destroyed[0x11], []byte{0x11, 0x11, 0x11, 0x11}) {
		t.Errorf("Expected destructor to see the constructed data, got %v", destroyed[0x11])
	}
	store.Free(0x11, typ)
	if len(destroyed) != 1 {
		t.Errorf("Destructor ran for a missing variable")
	}

	// FreeAll
	store.FreeAll(typ)
	if _, ok := destroyed[0x22]; !ok {
		t.Error("Expected destructor to run on FreeAll")
	}
	if _, ok := destroyed[0x33]; !ok {
		t.Error("Expected destructor to run on FreeAll")
	}

	// implicit FreeAll on the last Unregister
	mustAlloc(t, store, 0x44, typ, 4, nil)
	store.Unregister(typ)
	if _, ok := destroyed[0x44]; !ok {
		t.Error("Expected destructor to run when the last registration is dropped")
	}
}

func testRegistration(t *testing.T, store shadow.IStore) {
	defer store.Close()

	// two independent users of the same id
	userA := &shadow.Type{ID: 8}
	userB := &shadow.Type{ID: 8}
	mustRegister(t, store, userA)
	mustRegister(t, store, userB)

	if !userA.Registered() || !userB.Registered() {
		t.Fatal("Expected both types to be registered")
	}
	if ti, ok := typeInfo(store, 8); !ok || ti.RefCount != 2 {
		t.Fatalf("Expected ref count 2, got %+v (found: %v)", ti, ok)
	}

	mustAlloc(t, store, 0x8000, userA, 8, nil)

	// the variable is shared by all users of the id
	if _, ok := store.Get(0x8000, userB); !ok {
		t.Error("Expected variable to be visible through the second registration")
	}

	// dropping one registration keeps the data
	store.Unregister(userA)
	if userA.Registered() {
		t.Error("Expected userA to be unregistered")
	}
	if _, ok := store.Get(0x8000, userB); !ok {
		t.Error("Variable was purged while the id was still registered")
	}
	if ti, ok := typeInfo(store, 8); !ok || ti.RefCount != 1 || ti.Entries != 1 {
		t.Errorf("Expected ref count 1 with 1 entry, got %+v (found: %v)", ti, ok)
	}

	// dropping the last registration purges everything
	store.Unregister(userB)
	if _, ok := typeInfo(store, 8); ok {
		t.Error("Registration record still present after the last Unregister")
	}

	// a later registration starts empty
	mustRegister(t, store, userA)
	if _, ok := store.Get(0x8000, userA); ok {
		t.Error("Stale variable visible after re-registration")
	}
	if store.GetInfo().Entries != 0 {
		t.Errorf("Expected no entries after re-registration, got %d", store.GetInfo().Entries)
	}
	store.Unregister(userA)
}

func testRegistrationMisuse(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 9}

	// unregister of an unknown type is a no-op
	store.Unregister(typ)
	if typ.Registered() {
		t.Error("Unregister must not mark a type as registered")
	}

	// double register is logged and ignored
	mustRegister(t, store, typ)
	if err := store.Register(typ); err != nil {
		t.Errorf("Expected double Register to return nil, got %v", err)
	}
	if ti, ok := typeInfo(store, 9); !ok || ti.RefCount != 1 {
		t.Errorf("Double Register changed the ref count: %+v", ti)
	}

	mustAlloc(t, store, 0x9000, typ, 8, nil)
	store.Unregister(typ)
	if _, ok := typeInfo(store, 9); ok {
		t.Error("Expected registration to be removed")
	}

	// second unregister is a no-op
	store.Unregister(typ)
	if _, ok := typeInfo(store, 9); ok {
		t.Error("Second Unregister recreated a registration")
	}
}

func testUnregisteredType(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 10}

	if _, ok := store.Get(0xa000, typ); ok {
		t.Error("Expected Get of an unregistered type to return false")
	}
	if _, err := store.Alloc(0xa000, typ, 8, nil); !errors.Is(err, shadow.ErrUnregisteredType) {
		t.Errorf("Expected ErrUnregisteredType from Alloc, got %v", err)
	}
	if _, err := store.GetOrAlloc(0xa000, typ, 8, nil); !errors.Is(err, shadow.ErrUnregisteredType) {
		t.Errorf("Expected ErrUnregisteredType from GetOrAlloc, got %v", err)
	}

	// an unregistered Type value sharing the id with a registered one is still rejected
	registered := &shadow.Type{ID: 10}
	mustRegister(t, store, registered)
	mustAlloc(t, store, 0xa000, registered, 8, nil)
	if _, ok := store.Get(0xa000, typ); ok {
		t.Error("Expected Get through an unregistered Type value to return false")
	}
	store.Unregister(registered)
}

func testCallbackReentrancy(t *testing.T, store shadow.IStore) {
	defer store.Close()

	other := &shadow.Type{ID: 12}
	mustRegister(t, store, other)
	mustAlloc(t, store, 0xb000, other, 8, nil)

	var (
		nestedErr   error
		nestedFound bool
	)
	typ := &shadow.Type{ID: 11, Ctor: func(owner uintptr, data []byte, arg any) error {
		// lookups are allowed from a constructor
		_, nestedFound = store.Get(0xb000, other)
		// mutations are not
		_, nestedErr = store.Alloc(0xb001, other, 8, nil)
		return nil
	}}
	mustRegister(t, store, typ)

	mustAlloc(t, store, 0xb000, typ, 8, nil)
	if !nestedFound {
		t.Error("Expected Get from a constructor to succeed")
	}
	if !errors.Is(nestedErr, shadow.ErrReentrantCall) {
		t.Errorf("Expected ErrReentrantCall for Alloc from a constructor, got %v", nestedErr)
	}
	if _, ok := store.Get(0xb001, other); ok {
		t.Error("Nested Alloc must not create a variable")
	}

	// a destructor calling Free is rejected too and does not deadlock
	var freed atomic.Bool
	dtorType := &shadow.Type{ID: 13, Dtor: func(owner uintptr, data []byte) {
		store.Free(0xb000, other)
		freed.Store(true)
	}}
	mustRegister(t, store, dtorType)
	mustAlloc(t, store, 0xb000, dtorType, 8, nil)
	store.Free(0xb000, dtorType)

	if !freed.Load() {
		t.Error("Expected the destructor to run")
	}
	if _, ok := store.Get(0xb000, other); !ok {
		t.Error("Nested Free from a destructor must be ignored")
	}

	store.Unregister(typ)
	store.Unregister(other)
	store.Unregister(dtorType)
}

func testEdgeCases(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 14}
	mustRegister(t, store, typ)

	// zero sized variables are valid and distinguishable from "not found"
	data, err := store.Alloc(0, typ, 0, nil)
	if err != nil {
		t.Fatalf("Alloc of size 0 failed: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("Expected an empty non-nil buffer, got %v", data)
	}
	if got, ok := store.Get(0, typ); !ok || got == nil {
		t.Error("Expected zero sized variable to be found (owner 0)")
	}

	// negative size
	if _, err := store.Alloc(0xc000, typ, -1, nil); !errors.Is(err, shadow.ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for negative size, got %v", err)
	}

	// nil type
	if _, ok := store.Get(0xc000, nil); ok {
		t.Error("Expected Get with nil type to return false")
	}
	if _, err := store.Alloc(0xc000, nil, 8, nil); !errors.Is(err, shadow.ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for nil type, got %v", err)
	}
	if err := store.Register(nil); !errors.Is(err, shadow.ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for Register(nil), got %v", err)
	}

	// large buffers and the maximum owner address
	large := mustAlloc(t, store, ^uintptr(0), typ, 1<<20, nil)
	if len(large) != 1<<20 {
		t.Errorf("Expected 1 MiB buffer, got %d bytes", len(large))
	}

	// same owner, many ids
	types := make([]*shadow.Type, 50)
	for i := range types {
		types[i] = &shadow.Type{ID: shadow.TypeID(100 + i), Ctor: func(owner uintptr, data []byte, arg any) error {
			data[0] = byte(arg.(int))
			return nil
		}}
		mustRegister(t, store, types[i])
		mustAlloc(t, store, 0xc000, types[i], 1, i)
	}
	for i, typ := range types {
		got, ok := store.Get(0xc000, typ)
		if !ok || got[0] != byte(i) {
			t.Errorf("Wrong variable for id %d: %v (found: %v)", typ.ID, got, ok)
		}
		store.Unregister(typ)
	}

	store.Unregister(typ)
}

func testConcurrentAlloc(t *testing.T, store shadow.IStore) {
	defer store.Close()

	var ctorCalls atomic.Int32
	typ := &shadow.Type{ID: 15, Ctor: func(owner uintptr, data []byte, arg any) error {
		ctorCalls.Add(1)
		return nil
	}}
	mustRegister(t, store, typ)

	const rounds = 50
	const workers = 8
	for round := 0; round < rounds; round++ {
		owner := uintptr(0xd000 + round)
		ctorCalls.Store(0)

		var successes, duplicates atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				<-start
				_, err := store.Alloc(owner, typ, 16, nil)
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, shadow.ErrDuplicateEntry):
					duplicates.Add(1)
				default:
					t.Errorf("Unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if successes.Load() != 1 || duplicates.Load() != workers-1 {
			t.Fatalf("Round %d: expected 1 success and %d duplicates, got %d / %d",
				round, workers-1, successes.Load(), duplicates.Load())
		}
		if ctorCalls.Load() != 1 {
			t.Fatalf("Round %d: expected exactly one constructor call, got %d", round, ctorCalls.Load())
		}
	}

	store.Unregister(typ)
}

func testConcurrentGetOrAlloc(t *testing.T, store shadow.IStore) {
	defer store.Close()

	var ctorCalls atomic.Int32
	typ := &shadow.Type{ID: 16, Ctor: func(owner uintptr, data []byte, arg any) error {
		ctorCalls.Add(1)
		return nil
	}}
	mustRegister(t, store, typ)

	const workers = 16
	results := make([][]byte, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			<-start
			data, err := store.GetOrAlloc(0xe000, typ, 8, nil)
			if err != nil {
				t.Errorf("GetOrAlloc failed: %v", err)
			}
			results[w] = data
		}(w)
	}
	close(start)
	wg.Wait()

	for w := 1; w < workers; w++ {
		if !sameData(results[0], results[w]) {
			t.Fatalf("Worker %d got a different buffer", w)
		}
	}
	if ctorCalls.Load() != 1 {
		t.Errorf("Expected exactly one constructor call, got %d", ctorCalls.Load())
	}

	store.Unregister(typ)
}

func testConcurrentReadersAndWriters(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 17, Ctor: fillOwner}
	mustRegister(t, store, typ)

	const numOwners = 64
	const numReaders = 8
	stop := make(chan struct{})
	var lookups atomic.Int64
	var wg sync.WaitGroup

	wg.Add(numReaders)
	for r := 0; r < numReaders; r++ {
		go func(r int) {
			defer wg.Done()
			for i := r; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				data, ok := store.Get(uintptr(0xf000+i%numOwners), typ)
				if ok && len(data) != 32 {
					t.Errorf("Reader saw a buffer of %d bytes", len(data))
					return
				}
				lookups.Add(1)
			}
		}(r)
	}

	for i := 0; i < 5000; i++ {
		owner := uintptr(0xf000 + i%numOwners)
		if _, err := store.GetOrAlloc(owner, typ, 32, nil); err != nil {
			t.Fatalf("GetOrAlloc failed: %v", err)
		}
		if i%3 == 0 {
			store.Free(owner, typ)
		}
		if i%1000 == 999 {
			store.FreeAll(typ)
		}
	}
	close(stop)
	wg.Wait()

	if lookups.Load() == 0 {
		t.Error("Readers made no progress")
	}

	store.Unregister(typ)
	if info := store.GetInfo(); info.Entries != 0 {
		t.Errorf("Expected no entries after Unregister, got %d", info.Entries)
	}
}

func testInfo(t *testing.T, store shadow.IStore) {
	defer store.Close()

	t1 := &shadow.Type{ID: 20}
	t2 := &shadow.Type{ID: 21}
	mustRegister(t, store, t1)
	mustRegister(t, store, t2)

	for i := uintptr(0); i < 10; i++ {
		mustAlloc(t, store, 0x100+i, t1, 16, nil)
	}
	for i := uintptr(0); i < 5; i++ {
		mustAlloc(t, store, 0x100+i, t2, 100, nil)
	}

	info := store.GetInfo()
	if info.Entries != 15 {
		t.Errorf("Expected 15 entries, got %d", info.Entries)
	}
	if info.LiveBytes != 10*16+5*100 {
		t.Errorf("Expected %d live bytes, got %d", 10*16+5*100, info.LiveBytes)
	}
	if len(info.Types) != 2 || info.Types[0].ID != 20 || info.Types[0].Entries != 10 ||
		info.Types[1].ID != 21 || info.Types[1].Entries != 5 {
		t.Errorf("Unexpected type info: %+v", info.Types)
	}
	if info.Chains.Buckets == 0 || info.Chains.LongestChain == 0 {
		t.Errorf("Expected chain statistics, got %+v", info.Chains)
	}

	store.FreeAll(t2)
	info = store.GetInfo()
	if info.Entries != 10 || info.LiveBytes != 10*16 {
		t.Errorf("Expected 10 entries / 160 bytes after FreeAll, got %d / %d", info.Entries, info.LiveBytes)
	}

	store.Unregister(t1)
	store.Unregister(t2)
}

func testClose(t *testing.T, store shadow.IStore) {
	typ := &shadow.Type{ID: 22}
	mustRegister(t, store, typ)
	data := mustAlloc(t, store, 0x1, typ, 8, nil)

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	// attached variables stay readable
	got, ok := store.Get(0x1, typ)
	if !ok || !sameData(got, data) {
		t.Error("Expected variable to stay readable after Close")
	}

	if _, err := store.Alloc(0x2, typ, 8, nil); !errors.Is(err, shadow.ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation after Close, got %v", err)
	}
	if err := store.Register(&shadow.Type{ID: 23}); !errors.Is(err, shadow.ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for Register after Close, got %v", err)
	}
}

// testScenarioA walks one variable through its whole life cycle
func testScenarioA(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 5, Ctor: func(owner uintptr, data []byte, arg any) error {
		clear(data)
		return nil
	}}
	mustRegister(t, store, typ)

	p, err := store.Alloc(0x1000, typ, 8, nil)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !bytes.Equal(p, make([]byte, 8)) {
		t.Fatalf("Expected 8 zero bytes, got %v", p)
	}

	got, ok := store.Get(0x1000, typ)
	if !ok || !sameData(got, p) {
		t.Fatal("Expected Get to return the allocated buffer")
	}

	again, err := store.Alloc(0x1000, typ, 8, nil)
	if again != nil || !errors.Is(err, shadow.ErrDuplicateEntry) {
		t.Fatalf("Expected (nil, ErrDuplicateEntry), got (%v, %v)", again, err)
	}

	store.Free(0x1000, typ)
	if _, ok := store.Get(0x1000, typ); ok {
		t.Fatal("Expected no variable after Free")
	}

	store.Unregister(typ)
	if typ.Registered() {
		t.Error("Expected type to be unregistered")
	}
}

// testScenarioB frees the variables of several owners at once
func testScenarioB(t *testing.T, store shadow.IStore) {
	defer store.Close()

	typ := &shadow.Type{ID: 7}
	mustRegister(t, store, typ)

	a := mustAlloc(t, store, 0x2000, typ, 8, nil)
	b := mustAlloc(t, store, 0x3000, typ, 8, nil)
	if sameData(a, b) {
		t.Fatal("Expected independent buffers for different owners")
	}

	store.FreeAll(typ)

	if _, ok := store.Get(0x2000, typ); ok {
		t.Error("Expected no variable for 0x2000 after FreeAll")
	}
	if _, ok := store.Get(0x3000, typ); ok {
		t.Error("Expected no variable for 0x3000 after FreeAll")
	}

	store.Unregister(typ)
}
