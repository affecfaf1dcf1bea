package lstore

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/shadowvar/lib/reclaim"
	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/ValentinKolb/shadowvar/lib/shadow/lstore/internal"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/petermattis/goid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sasha-s/go-deadlock"
)

var Logger = logger.GetLogger("shadow")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultBucketBits     = 12               // 4096 buckets
	maxBucketBits         = 20               // Upper bound for BucketBits
	defaultCallbackBudget = time.Millisecond // Ctor / dtor runtime before a warning is logged
)

// --------------------------------------------------------------------------
// Core store structure
// --------------------------------------------------------------------------

// storeImpl is the in process shadow variable store.
//
// Lookups run lock-free inside a reclaim read section. Every mutation
// (alloc, free, register, unregister) holds mu. Entries are unlinked under mu
// and their buffers are handed to the reclaimer, so a buffer is only reused
// after every lookup that could have returned it has finished.
type storeImpl struct {
	table   *internal.Table
	reclaim *reclaim.Reclaimer
	pool    bufferPool

	// write side, everything below mu is guarded by it unless atomic
	mu        sync.Locker
	lockOwner atomic.Int64 // goroutine id holding mu, 0 = none
	deferred  []diagnostic // log messages emitted after mu is released
	types     *xsync.MapOf[shadow.TypeID, *typeRegistration]

	// memory accounting
	liveEntries atomic.Int64
	liveBytes   atomic.Int64
	reserved    atomic.Int64 // live bytes + bytes waiting for reclamation
	maxBytes    int64
	maxTypes    int

	budget        time.Duration
	slowCallbacks atomic.Uint64

	metrics *storeMetrics
	log     logger.ILogger
	closed  atomic.Bool
}

// Options configures the store behavior during initialization
type Options struct {
	BucketBits      uint           // log2 of the number of buckets (0 = default: 12)
	MaxBytes        int64          // Upper bound for live and unreclaimed data bytes (0 = unlimited)
	MaxTypes        int            // Upper bound for registered type ids (0 = unlimited)
	CallbackBudget  time.Duration  // Ctor / dtor runtime that triggers a warning (<0 = off, 0 = default)
	ReclaimInterval time.Duration  // Time between reclaimer runs (0 = default)
	DetectDeadlocks bool           // Use a deadlock detecting mutex as write lock
	Logger          logger.ILogger // Logger (nil = package logger)
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		BucketBits:     defaultBucketBits,
		CallbackBudget: defaultCallbackBudget,
	}
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// NewLocalStore creates a new store with the specified options (optional).
// Close must be called to stop the background reclaimer.
//
// Thread-safety: This function is thread-safe, every call returns an
// independent store.
func NewLocalStore(opts *Options) shadow.IStore {
	if opts == nil {
		opts = DefaultOptions()
	}

	bits := opts.BucketBits
	if bits == 0 {
		bits = defaultBucketBits
	}
	if bits > maxBucketBits {
		bits = maxBucketBits
	}

	budget := opts.CallbackBudget
	if budget == 0 {
		budget = defaultCallbackBudget
	}

	log := opts.Logger
	if log == nil {
		log = Logger
	}

	s := &storeImpl{
		table:    internal.NewTable(bits),
		types:    xsync.NewMapOf[shadow.TypeID, *typeRegistration](),
		maxBytes: opts.MaxBytes,
		maxTypes: opts.MaxTypes,
		budget:   budget,
		log:      log,
	}

	if opts.DetectDeadlocks {
		s.mu = &deadlock.Mutex{}
	} else {
		s.mu = &sync.Mutex{}
	}

	s.reclaim = reclaim.New(&reclaim.Options{
		Interval: opts.ReclaimInterval,
		Logger:   log,
	})
	s.metrics = newStoreMetrics(s)

	return s
}

// --------------------------------------------------------------------------
// Write lock and deferred diagnostics
// --------------------------------------------------------------------------

// diagnostic is a log message raised while mu was held
type diagnostic struct {
	level logger.LogLevel
	msg   string
}

// withLock runs fn with mu held. Log messages raised by fn through deferf are
// written after mu was released, so a slow logger never extends the critical section.
// mu is released even if a callback panics.
func (s *storeImpl) withLock(fn func()) {
	s.mu.Lock()
	s.lockOwner.Store(goid.Get())

	var pending []diagnostic
	defer func() {
		pending, s.deferred = s.deferred, nil
		s.lockOwner.Store(0)
		s.mu.Unlock()

		for _, d := range pending {
			s.emit(d)
		}
	}()

	fn()
}

// deferf queues a log message, must be called with mu held
func (s *storeImpl) deferf(level logger.LogLevel, format string, args ...interface{}) {
	s.deferred = append(s.deferred, diagnostic{level: level, msg: fmt.Sprintf(format, args...)})
}

func (s *storeImpl) emit(d diagnostic) {
	switch d.level {
	case logger.ERROR, logger.CRITICAL:
		s.log.Errorf("%s", d.msg)
	case logger.WARNING:
		s.log.Warningf("%s", d.msg)
	case logger.INFO:
		s.log.Infof("%s", d.msg)
	default:
		s.log.Debugf("%s", d.msg)
	}
}

// checkWrite validates a mutating call. It rejects a call from a constructor or
// destructor (the calling goroutine already holds mu and would deadlock) and
// calls on a closed store.
func (s *storeImpl) checkWrite(op string, t *shadow.Type) error {
	if t == nil {
		s.log.Errorf("%s called with a nil type", op)
		return shadow.NewError(shadow.RetCInvalidOperation, op+": nil type")
	}
	if s.lockOwner.Load() == goid.Get() {
		// the caller is a callback, mu is held by this goroutine
		s.deferf(logger.ERROR, "%s called from a constructor or destructor (type %d)", op, t.ID)
		s.metrics.reentrantCalls.Inc()
		return shadow.NewError(shadow.RetCReentrantCall, fmt.Sprintf("%s called from a callback (type %d)", op, t.ID))
	}
	if s.closed.Load() {
		s.log.Errorf("%s called on a closed store (type %d)", op, t.ID)
		return shadow.NewError(shadow.RetCInvalidOperation, op+": store is closed")
	}
	return nil
}

// --------------------------------------------------------------------------
// Read operations
// --------------------------------------------------------------------------

// Get implements shadow.IStore.
//
// Thread-safety: This method is wait-free and can be called concurrently with
// every other operation, including from constructors and destructors.
func (s *storeImpl) Get(owner uintptr, t *shadow.Type) ([]byte, bool) {
	if t == nil {
		return nil, false
	}
	if !t.Registered() {
		s.log.Errorf("Trying to get shadow variable of non-registered type: %d", t.ID)
		s.metrics.unregisteredUse.Inc()
		return nil, false
	}

	g := s.reclaim.Enter()
	var data []byte
	e := s.table.Lookup(owner, t.ID)
	if e != nil {
		data = slices.Clip(e.Data)
	}
	g.Exit()

	if e == nil {
		s.metrics.misses.Inc()
		return nil, false
	}
	s.metrics.hits.Inc()
	return data, true
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Alloc implements shadow.IStore.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor.
func (s *storeImpl) Alloc(owner uintptr, t *shadow.Type, size int, ctorArg any) ([]byte, error) {
	return s.getOrAlloc(owner, t, size, ctorArg, true)
}

// GetOrAlloc implements shadow.IStore.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor. Concurrent calls for the same <owner, id> run
// the constructor exactly once and all return the same data.
func (s *storeImpl) GetOrAlloc(owner uintptr, t *shadow.Type, size int, ctorArg any) ([]byte, error) {
	return s.getOrAlloc(owner, t, size, ctorArg, false)
}

func (s *storeImpl) getOrAlloc(owner uintptr, t *shadow.Type, size int, ctorArg any, strict bool) ([]byte, error) {
	op := "GetOrAlloc"
	if strict {
		op = "Alloc"
	}
	if err := s.checkWrite(op, t); err != nil {
		return nil, err
	}
	if size < 0 {
		s.log.Errorf("%s called with negative size %d (type %d)", op, size, t.ID)
		return nil, shadow.NewError(shadow.RetCInvalidOperation, fmt.Sprintf("%s: negative size %d", op, size))
	}

	// Fast path: the variable already exists. An unregistered type always
	// takes the locked path which reports the error.
	if t.Registered() {
		if data, ok := s.lookup(owner, t.ID); ok {
			if strict {
				return nil, s.duplicate(owner, t)
			}
			return data, nil
		}
	}

	// Reserve and allocate outside the lock, the buffer is discarded if another
	// goroutine attaches the same variable in the meantime
	if !s.reserve(size) {
		s.log.Errorf("Failed to allocate shadow variable <%#x, %d>: %d bytes exceed the memory budget of %d bytes",
			owner, t.ID, size, s.maxBytes)
		s.metrics.allocFailures.Inc()
		return nil, shadow.NewError(shadow.RetCAllocationFailure,
			fmt.Sprintf("memory budget of %d bytes exhausted", s.maxBytes))
	}
	buf := s.pool.get(size)

	var (
		data     []byte
		exists   bool
		err      error
		attached bool
	)
	defer func() {
		// also runs if the constructor panicked
		if !attached {
			s.pool.put(buf)
			s.reserved.Add(-int64(size))
		}
	}()
	s.withLock(func() {
		data, exists, err = s.attachLocked(owner, t, buf, ctorArg)
	})
	attached = err == nil && !exists

	if err != nil {
		return nil, err
	}
	if exists && strict {
		return nil, s.duplicate(owner, t)
	}
	if !exists {
		s.metrics.allocs.Inc()
	}
	return data, nil
}

// attachLocked re-checks <owner, id> and, if it is still free, constructs buf
// and publishes it. Must be called with mu held.
func (s *storeImpl) attachLocked(owner uintptr, t *shadow.Type, buf []byte, ctorArg any) ([]byte, bool, error) {
	// only here the registration state is authoritative, Register and
	// Unregister hold the same lock
	if !t.Registered() {
		s.deferf(logger.ERROR, "Trying to allocate shadow variable of non-registered type: %d", t.ID)
		s.metrics.unregisteredUse.Inc()
		return nil, false, shadow.NewError(shadow.RetCUnregisteredType, fmt.Sprintf("type %d is not registered", t.ID))
	}

	if e := s.table.Lookup(owner, t.ID); e != nil {
		return slices.Clip(e.Data), true, nil
	}

	// callers get the buffer clipped to size, the pooled capacity stays private
	data := slices.Clip(buf)
	if t.Ctor != nil {
		start := s.startCallback()
		err := t.Ctor(owner, data, ctorArg)
		s.finishCallback("constructor", owner, t, start)
		if err != nil {
			s.deferf(logger.ERROR, "Failed to construct shadow variable <%#x, %d> (%v)", owner, t.ID, err)
			s.metrics.ctorFailures.Inc()
			return nil, false, shadow.WrapError(shadow.RetCConstructorFailed,
				fmt.Sprintf("constructor of <%#x, %d> failed", owner, t.ID), err)
		}
	}

	// the entry becomes visible to readers only after the constructor finished
	s.table.Insert(&internal.Entry{Owner: owner, ID: t.ID, Data: buf})
	s.liveEntries.Add(1)
	s.liveBytes.Add(int64(len(buf)))
	return data, false, nil
}

// lookup searches <owner, id> inside a read section
func (s *storeImpl) lookup(owner uintptr, id shadow.TypeID) ([]byte, bool) {
	g := s.reclaim.Enter()
	defer g.Exit()
	if e := s.table.Lookup(owner, id); e != nil {
		return slices.Clip(e.Data), true
	}
	return nil, false
}

func (s *storeImpl) duplicate(owner uintptr, t *shadow.Type) error {
	s.log.Warningf("Duplicate shadow variable <%#x, %d>", owner, t.ID)
	s.metrics.duplicates.Inc()
	return shadow.NewError(shadow.RetCDuplicateEntry, fmt.Sprintf("shadow variable <%#x, %d> already exists", owner, t.ID))
}

// reserve accounts size bytes against the memory budget
func (s *storeImpl) reserve(size int) bool {
	n := s.reserved.Add(int64(size))
	if s.maxBytes > 0 && n > s.maxBytes {
		s.reserved.Add(-int64(size))
		return false
	}
	return true
}

// --------------------------------------------------------------------------
// Free
// --------------------------------------------------------------------------

// Free implements shadow.IStore.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor.
func (s *storeImpl) Free(owner uintptr, t *shadow.Type) {
	if s.checkWrite("Free", t) != nil {
		return
	}
	s.withLock(func() {
		if e := s.table.Remove(owner, t.ID); e != nil {
			if p := s.detachLocked(e, t); p != nil {
				panic(p)
			}
		}
	})
}

// FreeAll implements shadow.IStore.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor.
func (s *storeImpl) FreeAll(t *shadow.Type) {
	if s.checkWrite("FreeAll", t) != nil {
		return
	}
	s.withLock(func() {
		s.freeAllLocked(t)
	})
}

// freeAllLocked removes every variable of t. A panicking destructor does not
// stop the removal, the first panic is raised again once all are gone.
// Must be called with mu held.
func (s *storeImpl) freeAllLocked(t *shadow.Type) int {
	var first any
	n := s.table.RemoveIf(
		func(e *internal.Entry) bool { return e.ID == t.ID },
		func(e *internal.Entry) {
			if p := s.detachLocked(e, t); p != nil && first == nil {
				first = p
			}
		},
	)
	if first != nil {
		panic(first)
	}
	return n
}

// detachLocked runs the destructor of an unlinked entry and hands its buffer
// to the reclaimer. The entry is accounted and retired even if the destructor
// panics, the recovered value is returned. Must be called with mu held.
func (s *storeImpl) detachLocked(e *internal.Entry, t *shadow.Type) (panicked any) {
	defer func() {
		if panicked = recover(); panicked != nil {
			s.deferf(logger.ERROR, "Destructor of shadow variable <%#x, %d> panicked: %v", e.Owner, t.ID, panicked)
		}
		s.retireLocked(e)
	}()

	if t.Dtor != nil {
		start := s.startCallback()
		t.Dtor(e.Owner, slices.Clip(e.Data))
		s.finishCallback("destructor", e.Owner, t, start)
	}
	return nil
}

// retireLocked accounts for an unlinked entry and hands its buffer to the
// reclaimer. Must be called with mu held.
func (s *storeImpl) retireLocked(e *internal.Entry) {
	size := int64(len(e.Data))
	s.liveEntries.Add(-1)
	s.liveBytes.Add(-size)
	s.metrics.frees.Inc()

	buf := e.Data
	s.reclaim.Retire(func() {
		s.pool.put(buf)
		s.reserved.Add(-size)
	})
}

// --------------------------------------------------------------------------
// Callback timing
// --------------------------------------------------------------------------

func (s *storeImpl) startCallback() time.Time {
	if s.budget < 0 {
		return time.Time{}
	}
	return time.Now()
}

// finishCallback logs a warning if a callback ran longer than the budget.
// Must be called with mu held.
func (s *storeImpl) finishCallback(kind string, owner uintptr, t *shadow.Type, start time.Time) {
	if start.IsZero() {
		return
	}
	if d := time.Since(start); d > s.budget {
		s.slowCallbacks.Add(1)
		s.deferf(logger.WARNING, "Slow %s for shadow variable <%#x, %d>: took %s, budget is %s",
			kind, owner, t.ID, d, s.budget)
	}
}

// --------------------------------------------------------------------------
// Metrics and shutdown
// --------------------------------------------------------------------------

// WritePrometheus implements shadow.IStore.
func (s *storeImpl) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// Close implements shadow.IStore. Attached variables stay valid, buffers
// waiting for reclamation are released.
//
// Thread-safety: This method is thread-safe and idempotent.
func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// wait for writers that passed the closed check
	s.withLock(func() {})
	s.reclaim.Close()
	return nil
}
