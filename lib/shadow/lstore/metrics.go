package lstore

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// storeMetrics holds the metrics of one store. Each store has its own set,
// so several stores in one process do not share counters.
type storeMetrics struct {
	set *metrics.Set

	// Get is the hot path, striped counters avoid contention on a single word
	hits   *xsync.Counter
	misses *xsync.Counter

	allocs            *metrics.Counter
	allocFailures     *metrics.Counter
	duplicates        *metrics.Counter
	ctorFailures      *metrics.Counter
	frees             *metrics.Counter
	unregisteredUse   *metrics.Counter
	doubleRegisters   *metrics.Counter
	unregisterUnknown *metrics.Counter
	reentrantCalls    *metrics.Counter
}

func newStoreMetrics(s *storeImpl) *storeMetrics {
	set := metrics.NewSet()
	m := &storeMetrics{
		set:               set,
		hits:              xsync.NewCounter(),
		misses:            xsync.NewCounter(),
		allocs:            set.NewCounter(`shadow_alloc_total`),
		allocFailures:     set.NewCounter(`shadow_errors_total{kind="allocation_failure"}`),
		duplicates:        set.NewCounter(`shadow_errors_total{kind="duplicate_entry"}`),
		ctorFailures:      set.NewCounter(`shadow_errors_total{kind="constructor_failed"}`),
		unregisteredUse:   set.NewCounter(`shadow_errors_total{kind="unregistered_type"}`),
		doubleRegisters:   set.NewCounter(`shadow_errors_total{kind="double_register"}`),
		unregisterUnknown: set.NewCounter(`shadow_errors_total{kind="unregister_unknown"}`),
		reentrantCalls:    set.NewCounter(`shadow_errors_total{kind="reentrant_call"}`),
		frees:             set.NewCounter(`shadow_free_total`),
	}

	set.NewGauge(`shadow_get_total{result="hit"}`, func() float64 {
		return float64(m.hits.Value())
	})
	set.NewGauge(`shadow_get_total{result="miss"}`, func() float64 {
		return float64(m.misses.Value())
	})
	set.NewGauge(`shadow_entries`, func() float64 {
		return float64(s.liveEntries.Load())
	})
	set.NewGauge(`shadow_live_bytes`, func() float64 {
		return float64(s.liveBytes.Load())
	})
	set.NewGauge(`shadow_reserved_bytes`, func() float64 {
		return float64(s.reserved.Load())
	})
	set.NewGauge(`shadow_registered_types`, func() float64 {
		return float64(s.types.Size())
	})
	set.NewGauge(`shadow_callback_slow_total`, func() float64 {
		return float64(s.slowCallbacks.Load())
	})
	set.NewGauge(`shadow_reclaim_pending`, func() float64 {
		return float64(s.reclaim.Stats().Pending)
	})
	set.NewGauge(`shadow_reclaim_released_total`, func() float64 {
		return float64(s.reclaim.Stats().Released)
	})
	set.NewGauge(`shadow_reclaim_grace_periods_total`, func() float64 {
		return float64(s.reclaim.Stats().GracePeriods)
	})

	return m
}
