// Package lstore implements the in process shadow variable store
// (shadow.IStore).
//
// Key Components:
//
//   - storeImpl: Holds the hashtable, the type registry and the write lock.
//     Get runs without locks inside a reclaim read section. Alloc, GetOrAlloc,
//     Free, FreeAll, Register and Unregister hold the write lock.
//
//   - Table (internal): A fixed number of buckets (1<<BucketBits), each the head
//     of a singly linked chain of entries. The bucket is selected by the top bits
//     of a seeded murmur3 hash of the owner address. An entry is published at the
//     chain head only after its constructor finished, so readers never see a
//     partially initialized buffer.
//
//   - Type Registry: Maps a type id to its reference count. Dropping the last
//     reference frees every variable of the id before the id is forgotten.
//
//   - Buffer Pool: Data buffers up to 4 KiB are recycled in power of two size
//     classes. A detached buffer goes back to the pool only after a grace period
//     of the reclaimer.
//
// Internal Mechanisms:
//
//   - Allocation: The memory budget is reserved and the buffer is taken from the
//     pool before the write lock is acquired. Under the lock the key is checked
//     again. If another goroutine won the race the buffer is returned to the
//     pool and the existing data is used (GetOrAlloc) or a duplicate error is
//     reported (Alloc).
//
//   - Diagnostics: Messages raised while the write lock is held are queued and
//     written after the lock was released.
//
//   - Callback Contract: A mutating call from a constructor or destructor would
//     deadlock on the write lock. It is detected by comparing goroutine ids and
//     rejected with shadow.ErrReentrantCall. Callbacks running longer than
//     Options.CallbackBudget are logged and counted. Options.DetectDeadlocks
//     replaces the write lock by a deadlock detecting mutex.
//
//   - Metrics: Every store owns a VictoriaMetrics set. Get hits and misses use
//     striped counters, everything else plain counters and gauges.
package lstore
