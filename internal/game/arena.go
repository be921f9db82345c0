package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Handle is a generational reference into an Arena. A handle whose slot was
// freed (and possibly reused) no longer resolves. The zero Handle never
// resolves.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the "no entity" handle.
func (h Handle) IsZero() bool { return h.Gen == 0 }

// ID packs the handle into a single integer (grid occupants, JSON ids).
func (h Handle) ID() uint64 { return uint64(h.Gen)<<32 | uint64(h.Index) }

// HandleFromID reverses ID.
func HandleFromID(id uint64) Handle {
	return Handle{Index: uint32(id), Gen: uint32(id >> 32)}
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index, h.Gen)
}

// ParseHandle parses the "index:gen" form produced by String.
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, ":")
	if !ok {
		return Handle{}, fmt.Errorf("handle %q: want index:gen", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("handle %q: %w", s, err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("handle %q: %w", s, err)
	}
	return Handle{Index: uint32(i), Gen: uint32(g)}, nil
}

type slot[T any] struct {
	gen   uint32
	alive bool
	value T
}

// Arena stores values in reusable slots addressed by generational handles.
// Not safe for concurrent use; the engine guards it with its own lock.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// NewArena preallocates room for capacity values.
func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]slot[T], 0, capacity)}
}

// Insert allocates a slot and stores the value build returns for it. build
// receives the new handle so values can record their own identity.
func (a *Arena[T]) Insert(build func(Handle) T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}

	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 { // generation 0 is reserved for the zero handle
		s.gen = 1
	}
	h := Handle{Index: idx, Gen: s.gen}
	s.alive = true
	s.value = build(h)
	a.live++
	return h
}

// Get resolves h. ok is false for stale or zero handles.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if h.IsZero() || int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.Index]
	if !s.alive || s.gen != h.Gen {
		return zero, false
	}
	return s.value, true
}

// Remove frees the slot behind h. Stale handles are ignored.
func (a *Arena[T]) Remove(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	s := &a.slots[h.Index]
	var zero T
	s.alive = false
	s.value = zero
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.alive {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, s.value) {
			return
		}
	}
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.live }
