package testing

import (
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
)

// RunStoreBenchmarks runs all benchmarks for a shadow variable store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {

	b.Run("Alloc", func(b *testing.B) {
		benchmarkAlloc(b, factory())
	})

	b.Run("AllocFree", func(b *testing.B) {
		benchmarkAllocFree(b, factory())
	})

	b.Run("GetOrAllocExisting", func(b *testing.B) {
		benchmarkGetOrAllocExisting(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Get(not)", func(b *testing.B) {
		benchmarkGetNot(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// registerBenchType registers a fresh type for a benchmark
func registerBenchType(b *testing.B, store shadow.IStore, id shadow.TypeID) *shadow.Type {
	typ := &shadow.Type{ID: id}
	if err := store.Register(typ); err != nil {
		b.Fatalf("Register failed: %v", err)
	}
	return typ
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Alloc with distinct owners
func benchmarkAlloc(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)
	var next atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			owner := uintptr(next.Add(1))
			if _, err := store.Alloc(owner, typ, 16, nil); err != nil {
				b.Errorf("Alloc failed: %v", err)
				return
			}
		}
	})
}

// Benchmark for Alloc directly followed by Free, exercises buffer recycling
func benchmarkAllocFree(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)
	var next atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		owner := uintptr(next.Add(1))
		for pb.Next() {
			if _, err := store.Alloc(owner, typ, 64, nil); err != nil {
				b.Errorf("Alloc failed: %v", err)
				return
			}
			store.Free(owner, typ)
		}
	})
}

// Benchmark for GetOrAlloc of existing variables (lock-free fast path)
func benchmarkGetOrAllocExisting(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)

	// Prepare data
	numOwners := 10000
	for i := 0; i < numOwners; i++ {
		store.Alloc(uintptr(i), typ, 16, nil)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			store.GetOrAlloc(uintptr(counter%numOwners), typ, 16, nil)
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)

	// Prepare data
	numOwners := 10000
	for i := 0; i < numOwners; i++ {
		store.Alloc(uintptr(i), typ, 16, nil)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			store.Get(uintptr(counter%numOwners), typ)
			counter++
		}
	})
}

// Parallel benchmarking for Get of missing variables
func benchmarkGetNot(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			store.Get(uintptr(counter), typ)
			counter++
		}
	})
}

// Benchmark for a read heavy mix: 90% Get, 5% GetOrAlloc, 5% Free
func benchmarkMixedUsage(b *testing.B, store shadow.IStore) {

	b.Cleanup(func() {
		store.Close()
	})

	typ := registerBenchType(b, store, 1)

	numOwners := 10000
	for i := 0; i < numOwners; i++ {
		store.Alloc(uintptr(i), typ, 16, nil)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			owner := uintptr(counter % numOwners)
			switch counter % 20 {
			case 0:
				store.GetOrAlloc(owner, typ, 16, nil)
			case 1:
				store.Free(owner, typ)
			default:
				store.Get(owner, typ)
			}
			counter++
		}
	})
}
