// Package slot implements the process-wide "index instead of pointer"
// tables described in spec.md §9: devices and servers are referenced
// internally by a small dense integer rather than by pointer, halving
// item/free-block header size.
package slot

import (
	"fmt"
	"sync"
)

// Limit is the maximum number of live entries a Table can hold. Chosen to
// match spec.md §9 ("max 4096 slots"); the array backing a Table is never
// resized past it.
const Limit = 4096

// None is the slot value used by items/free-blocks that don't reference
// an owner yet.
const None = -1

// Table is a fixed-size slot allocator for one entity kind (devices or
// servers). Index 0..Limit-1; a slot is either free or holds a value of
// type T. Allocation always returns the lowest free slot so that compact
// configurations keep slot numbers small and stable across reloads.
type Table[T any] struct {
	mu     sync.Mutex
	values []T
	used   []bool
	free   []int // stack of free indices, lowest-first is not required
}

// New returns an empty Table.
func New[T any]() *Table[T] {
	return &Table[T]{
		values: make([]T, Limit),
		used:   make([]bool, Limit),
	}
}

// Acquire hands out the lowest free slot and stores v there.
func (t *Table[T]) Acquire(v T) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < Limit; i++ {
		if !t.used[i] {
			t.used[i] = true
			t.values[i] = v
			return i, nil
		}
	}
	return None, fmt.Errorf("slot: table exhausted (limit %d)", Limit)
}

// Release nulls the slot, making it available for reuse.
func (t *Table[T]) Release(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= Limit {
		return
	}
	var zero T
	t.values[i] = zero
	t.used[i] = false
}

// Get returns the value at i and whether the slot is currently in use.
func (t *Table[T]) Get(i int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	if i < 0 || i >= Limit || !t.used[i] {
		return zero, false
	}
	return t.values[i], true
}

// Set overwrites the value stored in an already-acquired slot, e.g. after
// a reload splices updated settings onto a matched record (spec.md §4.J).
func (t *Table[T]) Set(i int, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= Limit || !t.used[i] {
		return
	}
	t.values[i] = v
}

// Each calls fn for every occupied slot, in slot order.
func (t *Table[T]) Each(fn func(i int, v T)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < Limit; i++ {
		if t.used[i] {
			fn(i, t.values[i])
		}
	}
}
