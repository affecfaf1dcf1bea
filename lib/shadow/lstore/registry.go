package lstore

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Type registry
// --------------------------------------------------------------------------

// typeRegistration tracks how many Type values registered one id.
// refCount is only modified with mu held, it is atomic so GetInfo can read it.
type typeRegistration struct {
	id       shadow.TypeID
	refCount atomic.Int64
}

// Register implements shadow.IStore.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor.
func (s *storeImpl) Register(t *shadow.Type) error {
	if err := s.checkWrite("Register", t); err != nil {
		return err
	}

	// allocated outside the lock, dropped if the id is already known
	reg := &typeRegistration{id: t.ID}

	var err error
	s.withLock(func() {
		if t.Registered() {
			s.deferf(logger.ERROR, "Trying to register shadow variable type that is already registered: %d", t.ID)
			s.metrics.doubleRegisters.Inc()
			return
		}

		existing, ok := s.types.Load(t.ID)
		if ok {
			reg = existing
		} else {
			if s.maxTypes > 0 && s.types.Size() >= s.maxTypes {
				s.deferf(logger.ERROR, "Failed to register shadow variable type %d: registry is full (%d types)", t.ID, s.maxTypes)
				s.metrics.allocFailures.Inc()
				err = shadow.NewError(shadow.RetCAllocationFailure,
					fmt.Sprintf("type registry is full (%d types)", s.maxTypes))
				return
			}
			s.types.Store(t.ID, reg)
		}

		reg.refCount.Add(1)
		t.SetRegistered(true)
	})
	return err
}

// Unregister implements shadow.IStore. Dropping the last registration of an
// id frees all its variables using the destructor of t.
//
// Thread-safety: This method is thread-safe, it must not be called from a
// constructor or destructor.
func (s *storeImpl) Unregister(t *shadow.Type) {
	if s.checkWrite("Unregister", t) != nil {
		return
	}

	s.withLock(func() {
		if !t.Registered() {
			s.deferf(logger.ERROR, "Trying to unregister shadow variable type that is not registered: %d", t.ID)
			s.metrics.unregisterUnknown.Inc()
			return
		}

		reg, ok := s.types.Load(t.ID)
		if !ok {
			s.deferf(logger.ERROR, "Can't find shadow variable type registration: %d", t.ID)
			s.metrics.unregisterUnknown.Inc()
			return
		}

		t.SetRegistered(false)
		if reg.refCount.Add(-1) > 0 {
			return
		}

		// the record goes first, a panicking destructor must not leave it behind
		s.types.Delete(t.ID)
		n := s.freeAllLocked(t)
		s.deferf(logger.DEBUG, "Unregistered shadow variable type %d, freed %d variables", t.ID, n)
	})
}
