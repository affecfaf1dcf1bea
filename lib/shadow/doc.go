// Package shadow provides a standardized interface for shadow variable stores.
// A shadow variable is a data buffer attached to an existing object (the owner)
// from the outside, without changing the owner's layout. Owners are identified
// only by their address and are never dereferenced.
//
// The package focuses on:
//   - A unified interface for attaching, looking up and detaching shadow data
//   - Reference counted type registration with automatic purge
//   - Typed errors with return codes for every failure mode
//   - Standardized statistics reporting
//
// Key Components:
//
//   - IStore Interface: The core interface that all store implementations must satisfy.
//     It provides lookup (Get), attachment (Alloc, GetOrAlloc), detachment
//     (Free, FreeAll), type registration (Register, Unregister) and reporting
//     (GetInfo, WritePrometheus).
//
//   - Type: Describes one kind of shadow data: a numeric id plus an optional
//     constructor and destructor. Several independent users may register the
//     same id, each with its own Type value. All data of an id is freed when
//     the last user unregisters.
//
//   - Error: All errors returned by a store are *Error values carrying a RetCode.
//     errors.Is compares codes, so errors.Is(err, ErrDuplicateEntry) matches
//     every duplicate error regardless of its message.
//
// Note on Concurrency:
//   - Get is wait-free and never blocks on writers.
//   - Every other operation is serialized by a single write lock per store.
//     Constructors and destructors run under that lock. They must not block
//     and must not call mutating store operations (Get is fine).
//   - Data returned by a store stays valid until the variable is freed. Detached
//     buffers are only reused after every lookup that might have returned them
//     has finished.
//   - The store does not synchronize access to the bytes of a buffer.
//
// Related Packages:
//
// The lstore package (github.com/ValentinKolb/shadowvar/lib/shadow/lstore) provides
// the in process implementation of IStore backed by a bucketed hashtable and the
// reclaim package.
//
// The testing package (github.com/ValentinKolb/shadowvar/lib/shadow/testing) provides
// standardized tests and benchmarks for IStore implementations:
//   - RunStoreTests: Runs a standardized test suite to validate implementations
//   - RunStoreBenchmarks: Provides performance benchmarks for comparing implementations
package shadow
