package reclaim

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("reclaim")

// --------------------------------------------------------------------------
// Constants and Options
// --------------------------------------------------------------------------

const (
	defaultInterval  = 10 * time.Millisecond // Default time between collector runs
	spinsBeforeSleep = 64                    // Gosched rounds before polling starts sleeping
	readerPollSleep  = 50 * time.Microsecond // Sleep between polls once spinning gave up
)

// Options configures a Reclaimer
type Options struct {
	Interval time.Duration  // Time between collector runs (0 = default)
	Logger   logger.ILogger // Logger (nil = package logger)
}

// DefaultOptions returns the default reclaimer options
func DefaultOptions() *Options {
	return &Options{
		Interval: defaultInterval,
	}
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// retired is an item waiting for the readers that could still see it.
// A barrier marker has a nil release func and a done channel.
type retired struct {
	seq     uint64
	epoch   uint64
	release func()
	done    chan struct{}
}

// Stats is a point in time view of the reclaimer state
type Stats struct {
	Epoch         uint64 `json:"epoch"`
	ActiveReaders int64  `json:"active_readers"`
	ReaderSlots   int64  `json:"reader_slots"`
	Pending       uint64 `json:"pending"`
	Retired       uint64 `json:"retired"`
	Released      uint64 `json:"released"`
	GracePeriods  uint64 `json:"grace_periods"`
}

// Reclaimer defers the release of removed objects until no reader that could
// still see them is inside a read section.
type Reclaimer struct {
	epoch   atomic.Uint64
	readers readerRegistry

	queue   *retireQueue
	pending pendingHeap // collector only, after Close guarded by lateMu
	lateMu  sync.Mutex
	seq     atomic.Uint64

	interval time.Duration
	log      logger.ILogger

	retiredTotal  atomic.Uint64
	releasedTotal atomic.Uint64
	gracePeriods  atomic.Uint64

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// Guard marks an open read section, it must be closed with Exit.
type Guard struct {
	readers *readerRegistry
	slot    *readerSlot
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// New creates a Reclaimer and starts its collector goroutine.
// Close must be called to stop the collector.
func New(opts *Options) *Reclaimer {
	if opts == nil {
		opts = DefaultOptions()
	}

	r := &Reclaimer{
		queue:    newRetireQueue(),
		interval: opts.Interval,
		log:      opts.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	if r.log == nil {
		r.log = Logger
	}

	go r.collect()

	return r
}

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// Enter opens a read section. It never waits for writers or other readers.
// Everything reachable from shared memory inside the section stays valid
// until the matching Exit.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Reclaimer) Enter() Guard {
	s := r.readers.acquire()
	s.epoch.Store(r.epoch.Load())
	return Guard{readers: &r.readers, slot: s}
}

// Exit closes the read section opened by Enter.
func (g Guard) Exit() {
	g.slot.epoch.Store(idle)
	g.readers.release(g.slot)
}

// --------------------------------------------------------------------------
// Write side
// --------------------------------------------------------------------------

// Retire schedules release to run once every read section that was open when
// Retire was called has ended. Sections opened later do not delay it. The
// object must already be unreachable for new readers. Retire never blocks.
//
// After Close the open sections are waited for synchronously instead.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Reclaimer) Retire(release func()) {
	if release == nil {
		return
	}
	r.retiredTotal.Add(1)

	if r.closed.Load() {
		r.Synchronize()
		release()
		r.releasedTotal.Add(1)
		return
	}

	r.queue.push(&retired{
		seq:     r.seq.Add(1),
		epoch:   r.advance(),
		release: release,
	})

	// Close may have run its final drain between the check above and the push
	if r.closed.Load() {
		r.drainClosed()
	}
}

// Synchronize blocks until every read section that was open when it was called
// has ended. Must not be called from inside a read section.
func (r *Reclaimer) Synchronize() {
	target := r.advance() + 1
	for spins := 0; ; spins++ {
		if min, _ := r.readers.oldest(); min >= target {
			break
		}
		backoff(spins)
	}
	r.gracePeriods.Add(1)
}

// Barrier blocks until every item retired before the call has been released.
// Returns immediately if the reclaimer is closed.
func (r *Reclaimer) Barrier() {
	if r.closed.Load() {
		return
	}

	marker := &retired{
		seq:   r.seq.Add(1),
		epoch: r.advance(),
		done:  make(chan struct{}),
	}
	r.queue.push(marker)

	select {
	case <-marker.done:
	case <-r.done:
	}
}

// Stats returns the current reclaimer statistics
func (r *Reclaimer) Stats() Stats {
	retiredN := r.retiredTotal.Load()
	releasedN := r.releasedTotal.Load()
	var pending uint64
	if retiredN > releasedN {
		pending = retiredN - releasedN
	}
	_, active := r.readers.oldest()
	return Stats{
		Epoch:         r.epoch.Load(),
		ActiveReaders: active,
		ReaderSlots:   r.readers.size.Load(),
		Pending:       pending,
		Retired:       retiredN,
		Released:      releasedN,
		GracePeriods:  r.gracePeriods.Load(),
	}
}

// Close releases every pending item and stops the collector.
// It is safe to call Close more than once.
func (r *Reclaimer) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		<-r.done
		return
	}
	close(r.stop)
	<-r.done
}

// advance moves the global epoch forward and returns the epoch before the
// move. Readers entering afterwards announce a later epoch than the returned one.
func (r *Reclaimer) advance() uint64 {
	return r.epoch.Add(1) - 1
}

// drainClosed releases items pushed after the collector stopped
func (r *Reclaimer) drainClosed() {
	<-r.done

	r.lateMu.Lock()
	defer r.lateMu.Unlock()

	r.drain()
	if r.pending.Len() == 0 {
		return
	}
	r.Synchronize()
	r.releaseOlderThan(idle)
}

// --------------------------------------------------------------------------
// Collector
// --------------------------------------------------------------------------

// collect is the collector loop.
// WARNING: this method is started by New and must never be called directly.
func (r *Reclaimer) collect() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.queue.notify:
			r.drain()
		case <-ticker.C:
			r.drain()
			r.reclaim()
		case <-r.stop:
			released := 0
			for spins := 0; ; spins++ {
				r.drain()
				released += r.reclaim()
				if r.pending.Len() == 0 {
					break
				}
				backoff(spins)
			}
			r.log.Debugf("reclaimer closed, released %d pending items", released)
			return
		}
	}
}

// drain moves everything from the retire queue into the pending heap
func (r *Reclaimer) drain() {
	for item := r.queue.pop(); item != nil; item = r.queue.pop() {
		r.pending.add(item)
	}
}

// reclaim releases every pending item retired before the oldest epoch a
// reader inside a section announced. It never waits for readers. Returns the
// number of released items (barrier markers not counted).
func (r *Reclaimer) reclaim() int {
	if r.pending.Len() == 0 {
		return 0
	}
	min, _ := r.readers.oldest()
	return r.releaseOlderThan(min)
}

// releaseOlderThan releases the pending items retired before epoch
func (r *Reclaimer) releaseOlderThan(epoch uint64) int {
	/*
		Note: markers are closed only after the whole batch was released so
		that a Barrier never returns before an item retired ahead of it
	*/
	var markers []*retired
	released := 0
	for {
		item, ok := r.pending.popOlderThan(epoch)
		if !ok {
			// markers only wait for the items ahead of them, not for readers
			if item, ok = r.pending.popMarker(); !ok {
				break
			}
		}
		if item.done != nil {
			markers = append(markers, item)
			continue
		}
		item.release()
		released++
	}

	if released > 0 || len(markers) > 0 {
		r.gracePeriods.Add(1)
	}
	r.releasedTotal.Add(uint64(released))
	for _, m := range markers {
		close(m.done)
	}
	return released
}

// backoff waits before the next poll of the reader slots
func backoff(spins int) {
	if spins < spinsBeforeSleep {
		runtime.Gosched()
	} else {
		time.Sleep(readerPollSleep)
	}
}
