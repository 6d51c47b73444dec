// Package arena provides the bounded allocator that owns every IR object of
// a compilation unit.
//
// Objects are ordinary Go values; the arena accounts for their size against a
// fixed byte budget and keeps them reachable until Release. A module and
// everything it references share one arena, so releasing the arena ends the
// lifetime of the whole module at once.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrExhausted is returned when an allocation would exceed the arena budget.
var ErrExhausted = errors.New("arena: out of space")

// ErrReleased is returned when allocating from a released arena.
var ErrReleased = errors.New("arena: released")

// DefaultLimit is the budget used by New when limit <= 0.
const DefaultLimit = 256 << 20

// Arena is a typed bump allocator with a byte budget.
type Arena struct {
	limit    int64
	used     int64
	objects  int
	released bool
	owned    []any
}

// New creates an arena with the given byte budget.
func New(limit int64) *Arena {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Arena{limit: limit}
}

// Used reports the number of bytes charged so far.
func (a *Arena) Used() int64 { return a.used }

// Limit reports the byte budget.
func (a *Arena) Limit() int64 { return a.limit }

// Objects reports the number of live allocations.
func (a *Arena) Objects() int { return a.objects }

// Released reports whether Release has been called.
func (a *Arena) Released() bool { return a.released }

// Reserve charges n bytes against the budget without returning an object.
func (a *Arena) Reserve(n int64) error {
	if a == nil {
		return fmt.Errorf("arena: nil arena")
	}
	if a.released {
		return ErrReleased
	}
	if n < 0 {
		return fmt.Errorf("arena: negative reservation %d", n)
	}
	// round to the allocation granule
	n = (n + 7) &^ 7
	if a.used+n > a.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrExhausted, n, a.used, a.limit)
	}
	a.used += n
	return nil
}

// Release drops every object owned by the arena. Further allocations fail.
func (a *Arena) Release() {
	if a == nil {
		return
	}
	a.released = true
	a.owned = nil
	a.objects = 0
}

// Alloc allocates a zero value of T from the arena.
func Alloc[T any](a *Arena) (*T, error) {
	var zero T
	if err := a.Reserve(int64(unsafe.Sizeof(zero))); err != nil {
		return nil, err
	}
	p := new(T)
	a.owned = append(a.owned, p)
	a.objects++
	return p, nil
}

// AllocSlice allocates a zeroed slice of n elements of T from the arena.
func AllocSlice[T any](a *Arena, n int) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative length %d", n)
	}
	var zero T
	if err := a.Reserve(int64(unsafe.Sizeof(zero)) * int64(n)); err != nil {
		return nil, err
	}
	s := make([]T, n)
	a.owned = append(a.owned, s)
	a.objects++
	return s, nil
}

// CopyBytes copies b into arena-owned storage.
func CopyBytes(a *Arena, b []byte) ([]byte, error) {
	out, err := AllocSlice[byte](a, len(b))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}
