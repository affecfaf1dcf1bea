package lstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
	shadowtesting "github.com/ValentinKolb/shadowvar/lib/shadow/testing"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func Test(t *testing.T) {
	shadowtesting.RunStoreTests(t, "LocalStore", func() shadow.IStore {
		return NewLocalStore(nil)
	})
}

func TestWithDeadlockDetection(t *testing.T) {
	shadowtesting.RunStoreTests(t, "LocalStore(deadlock)", func() shadow.IStore {
		return NewLocalStore(&Options{BucketBits: 4, DetectDeadlocks: true})
	})
}

func Benchmark(b *testing.B) {
	shadowtesting.RunStoreBenchmarks(b, "LocalStore", func() shadow.IStore {
		return NewLocalStore(nil)
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// recordingLogger is a logger.ILogger keeping every message in memory
type recordingLogger struct {
	mu      sync.Mutex
	entries []string

	// onLog is called for every message before it is recorded
	onLog func(level string)
}

func (l *recordingLogger) SetLevel(logger.LogLevel) {}

func (l *recordingLogger) record(level, format string, args ...interface{}) {
	if l.onLog != nil {
		l.onLog(level)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {
	l.record("DEBUG", format, args...)
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.record("INFO", format, args...)
}

func (l *recordingLogger) Warningf(format string, args ...interface{}) {
	l.record("WARN", format, args...)
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.record("ERROR", format, args...)
}

func (l *recordingLogger) Panicf(format string, args ...interface{}) {
	l.record("PANIC", format, args...)
}

// find returns the first recorded message containing substr
func (l *recordingLogger) find(substr string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return e, true
		}
	}
	return "", false
}

func newTestStore(t *testing.T, opts *Options) (*storeImpl, *recordingLogger) {
	log := &recordingLogger{}
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Logger = log
	opts.ReclaimInterval = time.Millisecond

	s := NewLocalStore(opts).(*storeImpl)
	t.Cleanup(func() { s.Close() })
	return s, log
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDiagnostics(t *testing.T) {
	s, log := newTestStore(t, nil)

	typ := &shadow.Type{ID: 1}

	s.Get(0x1, typ)
	_, found := log.find("ERROR: Trying to get shadow variable of non-registered type: 1")
	assert.True(t, found, "missing diagnostic for get of an unregistered type")

	s.Unregister(typ)
	_, found = log.find("ERROR: Trying to unregister shadow variable type that is not registered: 1")
	assert.True(t, found, "missing diagnostic for unregister of an unknown type")

	require.NoError(t, s.Register(typ))
	require.NoError(t, s.Register(typ))
	_, found = log.find("ERROR: Trying to register shadow variable type that is already registered: 1")
	assert.True(t, found, "missing diagnostic for double register")

	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)
	_, err = s.Alloc(0x1, typ, 8, nil)
	require.ErrorIs(t, err, shadow.ErrDuplicateEntry)
	_, found = log.find("WARN: Duplicate shadow variable <0x1, 1>")
	assert.True(t, found, "missing diagnostic for duplicate alloc")

	failing := &shadow.Type{ID: 2, Ctor: func(uintptr, []byte, any) error { return errors.New("boom") }}
	require.NoError(t, s.Register(failing))
	_, err = s.Alloc(0x2, failing, 8, nil)
	require.ErrorIs(t, err, shadow.ErrConstructorFailed)
	_, found = log.find("ERROR: Failed to construct shadow variable <0x2, 2> (boom)")
	assert.True(t, found, "missing diagnostic for constructor failure")
}

func TestDiagnosticsWrittenWithoutLock(t *testing.T) {
	s, log := newTestStore(t, nil)

	var heldWhileLogging bool
	log.onLog = func(string) {
		if s.lockOwner.Load() != 0 {
			heldWhileLogging = true
		}
	}

	typ := &shadow.Type{ID: 1, Ctor: func(uintptr, []byte, any) error { return errors.New("boom") }}
	require.NoError(t, s.Register(typ))
	require.NoError(t, s.Register(typ))
	_, err := s.Alloc(0x1, typ, 8, nil)
	require.Error(t, err)
	s.Unregister(typ)
	s.Unregister(typ)

	assert.False(t, heldWhileLogging, "a message was written while the write lock was held")
}

func TestMemoryBudget(t *testing.T) {
	s, log := newTestStore(t, &Options{MaxBytes: 64})

	typ := &shadow.Type{ID: 1}
	require.NoError(t, s.Register(typ))

	_, err := s.Alloc(0x1, typ, 32, nil)
	require.NoError(t, err)
	_, err = s.Alloc(0x2, typ, 32, nil)
	require.NoError(t, err)

	data, err := s.Alloc(0x3, typ, 1, nil)
	assert.Nil(t, data)
	require.ErrorIs(t, err, shadow.ErrAllocationFailure)
	_, found := log.find("Failed to allocate shadow variable <0x3, 1>")
	assert.True(t, found, "missing diagnostic for allocation failure")

	// a lost race or duplicate gives the reservation back
	_, err = s.Alloc(0x1, typ, 32, nil)
	require.ErrorIs(t, err, shadow.ErrDuplicateEntry)
	assert.Equal(t, int64(64), s.reserved.Load())

	// freed bytes count until the buffer was reclaimed
	s.Free(0x1, typ)
	assert.Equal(t, int64(32), s.liveBytes.Load())
	s.reclaim.Barrier()
	assert.Equal(t, int64(32), s.reserved.Load())

	_, err = s.Alloc(0x3, typ, 32, nil)
	require.NoError(t, err)

	s.Unregister(typ)
	s.reclaim.Barrier()
	assert.Zero(t, s.reserved.Load())
	assert.Zero(t, s.liveBytes.Load())
	assert.Zero(t, s.liveEntries.Load())
}

func TestRegistryCapacity(t *testing.T) {
	s, _ := newTestStore(t, &Options{MaxTypes: 2})

	t1 := &shadow.Type{ID: 1}
	t2 := &shadow.Type{ID: 2}
	t3 := &shadow.Type{ID: 3}
	require.NoError(t, s.Register(t1))
	require.NoError(t, s.Register(t2))

	err := s.Register(t3)
	require.ErrorIs(t, err, shadow.ErrAllocationFailure)
	assert.False(t, t3.Registered())

	// another user of a known id does not need a new record
	t1b := &shadow.Type{ID: 1}
	require.NoError(t, s.Register(t1b))

	// the record of a fully unregistered id is released
	s.Unregister(t2)
	require.NoError(t, s.Register(t3))
	assert.Len(t, s.GetInfo().Types, 2)

	s.Unregister(t1)
	s.Unregister(t1b)
	s.Unregister(t3)
}

func TestSlowCallback(t *testing.T) {
	s, log := newTestStore(t, &Options{CallbackBudget: time.Microsecond})

	typ := &shadow.Type{
		ID: 1,
		Ctor: func(uintptr, []byte, any) error {
			time.Sleep(2 * time.Millisecond)
			return nil
		},
		Dtor: func(uintptr, []byte) {
			time.Sleep(2 * time.Millisecond)
		},
	}
	require.NoError(t, s.Register(typ))

	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)
	_, found := log.find("WARN: Slow constructor for shadow variable <0x1, 1>")
	assert.True(t, found, "missing warning for slow constructor")

	s.Free(0x1, typ)
	_, found = log.find("WARN: Slow destructor for shadow variable <0x1, 1>")
	assert.True(t, found, "missing warning for slow destructor")

	assert.Equal(t, uint64(2), s.GetInfo().CallbackSlow)
	s.Unregister(typ)
}

func TestCallbackBudgetDisabled(t *testing.T) {
	s, _ := newTestStore(t, &Options{CallbackBudget: -1})

	typ := &shadow.Type{ID: 1, Ctor: func(uintptr, []byte, any) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}}
	require.NoError(t, s.Register(typ))
	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)

	assert.Zero(t, s.GetInfo().CallbackSlow)
	s.Unregister(typ)
}

func TestReentrantCallLogged(t *testing.T) {
	s, log := newTestStore(t, nil)

	typ := &shadow.Type{ID: 1}
	typ.Ctor = func(owner uintptr, data []byte, arg any) error {
		s.FreeAll(typ)
		return nil
	}
	require.NoError(t, s.Register(typ))

	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)

	_, found := log.find("ERROR: FreeAll called from a constructor or destructor (type 1)")
	assert.True(t, found, "missing diagnostic for reentrant call")
	_, ok := s.Get(0x1, typ)
	assert.True(t, ok)

	s.Unregister(typ)
}

func TestPanickingConstructorReleasesLock(t *testing.T) {
	s, _ := newTestStore(t, &Options{MaxBytes: 16})

	typ := &shadow.Type{ID: 1, Ctor: func(uintptr, []byte, any) error {
		panic("constructor panic")
	}}
	require.NoError(t, s.Register(typ))

	assert.Panics(t, func() {
		s.Alloc(0x1, typ, 16, nil)
	})

	// the reservation of the failed allocation was given back
	assert.Zero(t, s.reserved.Load())
	assert.Zero(t, s.liveBytes.Load())

	// the store is still usable and the whole budget is available
	plain := &shadow.Type{ID: 2}
	require.NoError(t, s.Register(plain))
	_, err := s.Alloc(0x1, plain, 16, nil)
	require.NoError(t, err)
	_, ok := s.Get(0x1, typ)
	assert.False(t, ok, "a panicking constructor must not insert")

	s.Unregister(typ)
	s.Unregister(plain)
}

func TestPanickingDestructorDuringPurge(t *testing.T) {
	s, log := newTestStore(t, &Options{MaxBytes: 64})

	var calls int
	typ := &shadow.Type{ID: 1, Dtor: func(owner uintptr, data []byte) {
		calls++
		if owner == 0x2 {
			panic("destructor panic")
		}
	}}
	require.NoError(t, s.Register(typ))
	for owner := uintptr(0x1); owner <= 0x3; owner++ {
		_, err := s.Alloc(owner, typ, 16, nil)
		require.NoError(t, err)
	}

	assert.Panics(t, func() {
		s.Unregister(typ)
	})

	// every variable was still removed and accounted for
	assert.Equal(t, 3, calls)
	info := s.GetInfo()
	assert.Zero(t, info.Entries)
	assert.Empty(t, info.Types, "no registration may be left behind")
	assert.Zero(t, s.liveEntries.Load())
	assert.Zero(t, s.liveBytes.Load())
	_, found := log.find("ERROR: Destructor of shadow variable <0x2, 1> panicked: destructor panic")
	assert.True(t, found, "missing diagnostic for panicking destructor")

	s.reclaim.Barrier()
	assert.Zero(t, s.reserved.Load())

	// the id can be registered again and starts empty
	require.NoError(t, s.Register(typ))
	_, ok := s.Get(0x1, typ)
	assert.False(t, ok)
	s.Unregister(typ)
}

func TestPanickingDestructorOnFree(t *testing.T) {
	s, _ := newTestStore(t, nil)

	typ := &shadow.Type{ID: 1, Dtor: func(uintptr, []byte) {
		panic("destructor panic")
	}}
	require.NoError(t, s.Register(typ))
	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)

	assert.Panics(t, func() {
		s.Free(0x1, typ)
	})

	_, ok := s.Get(0x1, typ)
	assert.False(t, ok)
	assert.Zero(t, s.liveEntries.Load())
	s.reclaim.Barrier()
	assert.Zero(t, s.reserved.Load())

	typ.Dtor = nil
	s.Unregister(typ)
}

func TestDataClippedToSize(t *testing.T) {
	s, _ := newTestStore(t, nil)

	var ctorCap int
	typ := &shadow.Type{ID: 1, Ctor: func(owner uintptr, data []byte, arg any) error {
		ctorCap = cap(data)
		return nil
	}}
	require.NoError(t, s.Register(typ))

	data, err := s.Alloc(0x1, typ, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, ctorCap)
	assert.Equal(t, 9, len(data))
	assert.Equal(t, 9, cap(data))

	// appending must copy instead of writing into pooled memory
	grown := append(data, 0xff)
	got, ok := s.Get(0x1, typ)
	require.True(t, ok)
	assert.Equal(t, 9, cap(got))
	assert.NotSame(t, &grown[0], &got[0])

	got, err = s.GetOrAlloc(0x1, typ, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, cap(got))

	s.Unregister(typ)
}

func TestBuffersReusedAfterReclamation(t *testing.T) {
	s, _ := newTestStore(t, nil)

	typ := &shadow.Type{ID: 1, Ctor: func(owner uintptr, data []byte, arg any) error {
		for i := range data {
			data[i] = 0xaa
		}
		return nil
	}}
	require.NoError(t, s.Register(typ))

	for i := 0; i < 100; i++ {
		_, err := s.Alloc(0x1, typ, 48, nil)
		require.NoError(t, err)
		s.Free(0x1, typ)
	}
	s.reclaim.Barrier()

	stats := s.reclaim.Stats()
	assert.Equal(t, uint64(100), stats.Released)
	assert.Zero(t, stats.Pending)

	// recycled buffers start zero-filled
	plain := &shadow.Type{ID: 2}
	require.NoError(t, s.Register(plain))
	data, err := s.Alloc(0x2, plain, 48, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 48), data)

	s.Unregister(typ)
	s.Unregister(plain)
}

func TestWritePrometheus(t *testing.T) {
	s, _ := newTestStore(t, nil)

	typ := &shadow.Type{ID: 1}
	require.NoError(t, s.Register(typ))
	_, err := s.Alloc(0x1, typ, 8, nil)
	require.NoError(t, err)
	_, _ = s.Alloc(0x1, typ, 8, nil)
	s.Get(0x1, typ)
	s.Get(0x2, typ)

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, "shadow_alloc_total 1")
	assert.Contains(t, out, `shadow_errors_total{kind="duplicate_entry"} 1`)
	assert.Contains(t, out, `shadow_get_total{result="hit"} 1`)
	assert.Contains(t, out, `shadow_get_total{result="miss"} 1`)
	assert.Contains(t, out, "shadow_entries 1")
	assert.Contains(t, out, "shadow_registered_types 1")

	s.Unregister(typ)
}

func TestBucketBits(t *testing.T) {
	s, _ := newTestStore(t, &Options{BucketBits: 40})
	assert.Equal(t, 1<<maxBucketBits, s.table.Len())

	s2, _ := newTestStore(t, &Options{})
	assert.Equal(t, 1<<defaultBucketBits, s2.table.Len())
	assert.Equal(t, defaultCallbackBudget, s2.budget)
}
