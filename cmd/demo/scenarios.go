package demo

import (
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
)

// scenario is one walk through the store api. It writes every step to w and
// returns an error as soon as the store does not behave as expected.
type scenario struct {
	name string
	desc string
	run  func(store shadow.IStore, w io.Writer) error
}

var scenarios = []scenario{
	{
		name: "lifecycle",
		desc: "attach, look up, re-attach and detach one variable",
		run:  runLifecycle,
	},
	{
		name: "free-all",
		desc: "attach one type to two owners and detach both at once",
		run:  runFreeAll,
	},
	{
		name: "shared-type",
		desc: "two users share a type id, the last unregister purges its data",
		run:  runSharedType,
	},
}

// zeroFill is a constructor clearing the buffer
func zeroFill(_ uintptr, data []byte, _ any) error {
	clear(data)
	return nil
}

func step(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}

func runLifecycle(store shadow.IStore, w io.Writer) error {
	typ := &shadow.Type{ID: 5, Ctor: zeroFill}

	if err := store.Register(typ); err != nil {
		return err
	}
	step(w, "register(5)")

	p, err := store.Alloc(0x1000, typ, 8, nil)
	if err != nil {
		return fmt.Errorf("alloc(0x1000, 5): %w", err)
	}
	step(w, "alloc(0x1000, 5, size=8) -> %v", p)

	got, ok := store.Get(0x1000, typ)
	if !ok || len(got) != len(p) {
		return errors.New("get(0x1000, 5) did not return the allocated data")
	}
	step(w, "get(0x1000, 5) -> %v", got)

	if _, err := store.Alloc(0x1000, typ, 8, nil); !errors.Is(err, shadow.ErrDuplicateEntry) {
		return fmt.Errorf("second alloc(0x1000, 5): expected a duplicate error, got %v", err)
	}
	step(w, "alloc(0x1000, 5, size=8) -> duplicate")

	store.Free(0x1000, typ)
	step(w, "free(0x1000, 5)")

	if _, ok := store.Get(0x1000, typ); ok {
		return errors.New("get(0x1000, 5) found data after free")
	}
	step(w, "get(0x1000, 5) -> none")

	store.Unregister(typ)
	step(w, "unregister(5)")
	return nil
}

func runFreeAll(store shadow.IStore, w io.Writer) error {
	typ := &shadow.Type{ID: 7}

	if err := store.Register(typ); err != nil {
		return err
	}
	step(w, "register(7)")

	for _, owner := range []uintptr{0x2000, 0x3000} {
		if _, err := store.Alloc(owner, typ, 16, nil); err != nil {
			return fmt.Errorf("alloc(%#x, 7): %w", owner, err)
		}
		step(w, "alloc(%#x, 7, size=16)", owner)
	}

	store.FreeAll(typ)
	step(w, "free_all(7)")

	for _, owner := range []uintptr{0x2000, 0x3000} {
		if _, ok := store.Get(owner, typ); ok {
			return fmt.Errorf("get(%#x, 7) found data after free_all", owner)
		}
		step(w, "get(%#x, 7) -> none", owner)
	}

	store.Unregister(typ)
	step(w, "unregister(7)")
	return nil
}

func runSharedType(store shadow.IStore, w io.Writer) error {
	first := &shadow.Type{ID: 9}
	second := &shadow.Type{ID: 9}

	if err := store.Register(first); err != nil {
		return err
	}
	if err := store.Register(second); err != nil {
		return err
	}
	step(w, "register(9) twice (two users)")

	if _, err := store.GetOrAlloc(0x4000, first, 8, nil); err != nil {
		return fmt.Errorf("get_or_alloc(0x4000, 9): %w", err)
	}
	step(w, "get_or_alloc(0x4000, 9, size=8)")

	store.Unregister(first)
	if _, ok := store.Get(0x4000, second); !ok {
		return errors.New("data was purged while the type was still registered")
	}
	step(w, "unregister(9) by the first user -> data kept")

	store.Unregister(second)
	step(w, "unregister(9) by the second user -> data purged")

	if err := store.Register(first); err != nil {
		return err
	}
	defer store.Unregister(first)
	if _, ok := store.Get(0x4000, first); ok {
		return errors.New("stale data visible after re-registration")
	}
	step(w, "register(9) again -> get(0x4000, 9) -> none")
	return nil
}
