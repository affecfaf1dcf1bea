package shadow

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/shadowvar/lib/reclaim"
	"github.com/ValentinKolb/shadowvar/lib/util"
)

// --------------------------------------------------------------------------
// Type Descriptor
// --------------------------------------------------------------------------

// TypeID identifies a kind of shadow data. Independent kinds attached to the
// same owner use different ids.
type TypeID uint64

// Constructor initializes a freshly allocated, zero-filled data buffer.
// arg is the value passed to Alloc / GetOrAlloc. A non-nil error discards the buffer.
//
// Constructors run under the store's write lock: they must be short, must not
// block and must not call Alloc, GetOrAlloc, Free, FreeAll, Register or
// Unregister of the same store. Get is allowed.
type Constructor func(owner uintptr, data []byte, arg any) error

// Destructor tears down a data buffer right before it is detached.
// The same restrictions as for Constructor apply. If a destructor panics the
// entry is still detached and released, the panic is raised again afterwards.
type Destructor func(owner uintptr, data []byte)

// Type describes a kind of shadow data. It is owned by the caller, passed by
// pointer to every store operation and must not be copied after first use.
//
// One Type value represents one registration: two independent users of the
// same ID each register their own Type value.
type Type struct {
	ID   TypeID
	Ctor Constructor // optional
	Dtor Destructor  // optional

	registered atomic.Bool
}

// Registered reports whether t is currently registered.
// The value may be stale by the time it is used.
func (t *Type) Registered() bool {
	return t.registered.Load()
}

// SetRegistered is used by store implementations to track the registration state.
// It must only be called under the store's write lock.
func (t *Type) SetRegistered(v bool) {
	t.registered.Store(v)
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore attaches shadow variables (data buffers) to owners identified only
// by their address. An owner is never dereferenced.
//
// Get is wait-free. All other operations are serialised by a single write lock.
// The data returned by Get / Alloc / GetOrAlloc stays valid until the entry is
// freed. Access to the bytes themselves must be synchronised by the caller.
type IStore interface {
	// Register announces that the caller is going to use t.ID. Several callers
	// may register the same ID, each with its own Type value.
	// Registering an already registered Type logs an error and returns nil.
	Register(t *Type) (err error)
	// Unregister drops the caller's registration of t.ID. When the last
	// registration of an ID is dropped, all its shadow variables are freed.
	Unregister(t *Type)
	// Get returns the data attached to owner for t. The boolean is false if no
	// data is attached or t is not registered.
	Get(owner uintptr, t *Type) (data []byte, ok bool)
	// Alloc attaches a new zero-filled data buffer of size bytes to owner,
	// initialized by t.Ctor. Fails with ErrDuplicateEntry if data is already attached.
	// An unregistered t is rejected with ErrUnregisteredType and nothing is
	// attached, a purged ID can never get new entries.
	// The returned slice has a capacity of exactly size.
	Alloc(owner uintptr, t *Type, size int, ctorArg any) (data []byte, err error)
	// GetOrAlloc returns the data attached to owner, or attaches a new buffer like Alloc.
	// An unregistered t is rejected the same way.
	GetOrAlloc(owner uintptr, t *Type, size int, ctorArg any) (data []byte, err error)
	// Free detaches and releases the data attached to owner for t (if any).
	Free(owner uintptr, t *Type)
	// FreeAll detaches and releases the data of t attached to any owner.
	FreeAll(t *Type)
	// GetInfo returns statistics about the store.
	// It is not guaranteed that the values are consistent with each other.
	GetInfo() (info StoreInfo)
	// WritePrometheus writes the store metrics in Prometheus text format.
	WritePrometheus(w io.Writer)
	// Close releases all pending memory and stops background work.
	// Every operation except Get fails after Close.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Store Info
// --------------------------------------------------------------------------

// TypeInfo describes one registered type id
type TypeInfo struct {
	ID       TypeID `json:"id"`
	RefCount int    `json:"ref_count"`
	Entries  int    `json:"entries"`
}

// StoreInfo holds statistics about a store
type StoreInfo struct {
	Entries      int             `json:"entries"`
	LiveBytes    int64           `json:"live_bytes"`
	MaxBytes     int64           `json:"max_bytes"`
	Types        []TypeInfo      `json:"types"`
	Chains       util.ChainStats `json:"chains"`
	MedianSize   int             `json:"median_size"`
	AverageSize  int             `json:"average_size"`
	Reclaimer    reclaim.Stats   `json:"reclaimer"`
	CallbackSlow uint64          `json:"callback_slow"`
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by store operations.
// It wraps a return code, a message and optionally the error that caused it.
type Error struct {
	Code  RetCode // The return code
	Msg   string  // The error message
	Cause error   // The underlying error (e.g. returned by a constructor)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ShadowStoreError (code %s): %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ShadowStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, shadow.ErrDuplicateEntry) works for every duplicate error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message that wraps cause.
func WrapError(code RetCode, msg string, cause error) *Error {
	return &Error{
		Code:  code,
		Msg:   msg,
		Cause: cause,
	}
}

// Sentinel errors for errors.Is comparisons
var (
	ErrAllocationFailure = NewError(RetCAllocationFailure, "allocation failure")
	ErrDuplicateEntry    = NewError(RetCDuplicateEntry, "duplicate shadow variable")
	ErrConstructorFailed = NewError(RetCConstructorFailed, "constructor failed")
	ErrUnregisteredType  = NewError(RetCUnregisteredType, "type not registered")
	ErrDoubleRegister    = NewError(RetCDoubleRegister, "type already registered")
	ErrUnregisterUnknown = NewError(RetCUnregisterUnknown, "type registration not found")
	ErrReentrantCall     = NewError(RetCReentrantCall, "store operation called from a callback")
	ErrInvalidOperation  = NewError(RetCInvalidOperation, "invalid operation")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess           RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                    // 1: Operation failed due to an internal error.
	RetCAllocationFailure                // 2: Memory budget or registry capacity exhausted.
	RetCDuplicateEntry                   // 3: Strict alloc found an existing <owner, id>.
	RetCConstructorFailed                // 4: The constructor returned an error.
	RetCUnregisteredType                 // 5: Type used without being registered.
	RetCDoubleRegister                   // 6: Type registered twice.
	RetCUnregisterUnknown                // 7: Unregister without a matching registration.
	RetCReentrantCall                    // 8: Mutating operation called from a ctor / dtor.
	RetCInvalidOperation                 // 9: Invalid arguments or closed store.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCAllocationFailure:
		return "AllocationFailure"
	case RetCDuplicateEntry:
		return "DuplicateEntry"
	case RetCConstructorFailed:
		return "ConstructorFailed"
	case RetCUnregisteredType:
		return "UnregisteredType"
	case RetCDoubleRegister:
		return "DoubleRegister"
	case RetCUnregisterUnknown:
		return "UnregisterUnknown"
	case RetCReentrantCall:
		return "ReentrantCall"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
