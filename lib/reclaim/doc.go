// Package reclaim implements epoch based safe memory reclamation for data
// structures that are read without locks and modified under a writer lock.
//
// Readers wrap every traversal of shared memory in a read section:
//
//	g := r.Enter()
//	e := bucket.Load()
//	for ; e != nil; e = e.next.Load() { ... }
//	g.Exit()
//
// Writers unlink an object so that new readers cannot reach it any more and
// then hand a release function to Retire. The release function runs only after
// every read section that could still hold a reference has ended.
//
// Implementation Details:
//
//   - Read Sections: Every reader owns a slot in which it announces the global
//     epoch it entered its section in, Exit announces idle again. Slots are
//     reused through a pool and a scan of the slot list, a new slot is only
//     allocated while all existing ones are in use. Readers never wait for
//     writers or for each other.
//
//   - Retirement: Retire stamps the item with the current epoch, advances the
//     epoch and pushes the item onto a lock-free multi-producer single-consumer
//     queue. Readers entering afterwards announce a later epoch than the stamp,
//     so they never hold the item back. Writers never wait for readers.
//
//   - Collection: A background collector drains the queue into a heap ordered
//     by retire epoch. Every tick it scans the slots for the oldest announced
//     epoch and releases every item stamped before it. The collector never
//     waits for readers, an item held back by a long section is simply looked
//     at again on the next tick.
//
//   - Barrier and Close: Barrier waits until everything retired before the call
//     has been released, it does not wait for readers on its own. Close
//     releases everything pending and stops the collector.
//
// Thread Safety:
//
//	Enter, Exit, Retire, Synchronize, Barrier and Stats are safe for concurrent
//	use. Synchronize and Barrier block and must not be called from inside a
//	read section of the same reclaimer, they would wait for themselves.
package reclaim
