// Package slab implements the fixed-size object pool allocator of
// spec.md §4.D: one slab per object type (items, requests), backing
// blocks sized to ~128 KiB (or one block's worth of objects, whichever
// is smaller), each cell carrying a single-pointer back-reference to its
// owning block so Free needs only the cell's address. Grounded on
// friggdb/pool/pool.go's fixed-block free-list pool, generalized from
// byte blocks to typed cells via Go generics.
package slab

import (
	"sync"
	"unsafe"
)

// targetBlockBytes is the ~128 KiB backing-block size target from
// spec.md §4.D.
const targetBlockBytes = 128 * 1024

// cell wraps one slab-allocated value. Value MUST stay the first field:
// Free recovers the owning cell (and therefore the owning block) from a
// *T by an unsafe back-cast, mirroring the "one pointer of overhead"
// back-pointer spec.md §4.D describes for the original's C cells.
type cell[T any] struct {
	value T
	blk   *block[T]
	next  *cell[T] // free-list link; valid only while the cell is free
}

type block[T any] struct {
	cells     []cell[T]
	freeCount int
}

// Slab is a typed fixed-size object pool. Zero value is not usable; use
// New.
type Slab[T any] struct {
	mu         sync.Mutex
	blocks     []*block[T]
	freeHead   *cell[T]
	perBlock   int
	firstBlock *block[T] // never released, per spec.md §4.D
}

// New returns a Slab sized so each backing block is ~128 KiB, or holds at
// least one cell.
func New[T any]() *Slab[T] {
	var c cell[T]
	sz := int(unsafe.Sizeof(c))
	if sz <= 0 {
		sz = 1
	}
	perBlock := targetBlockBytes / sz
	if perBlock < 1 {
		perBlock = 1
	}
	return &Slab[T]{perBlock: perBlock}
}

func (s *Slab[T]) growLocked() {
	b := &block[T]{cells: make([]cell[T], s.perBlock)}
	for i := range b.cells {
		c := &b.cells[i]
		c.blk = b
		c.next = s.freeHead
		s.freeHead = c
	}
	b.freeCount = s.perBlock
	s.blocks = append(s.blocks, b)
	if s.firstBlock == nil {
		s.firstBlock = b
	}
}

// Alloc returns a pointer to a zero-valued T drawn from the pool,
// growing the pool by one block if it is exhausted.
func (s *Slab[T]) Alloc() *T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.freeHead == nil {
		s.growLocked()
	}
	c := s.freeHead
	s.freeHead = c.next
	c.next = nil
	c.blk.freeCount--
	var zero T
	c.value = zero
	return &c.value
}

// Free returns p to the pool. p must have been returned by Alloc on the
// same Slab and not already freed.
func (s *Slab[T]) Free(p *T) {
	c := (*cell[T])(unsafe.Pointer(p))

	s.mu.Lock()
	defer s.mu.Unlock()

	c.blk.freeCount++
	c.next = s.freeHead
	s.freeHead = c
}

// Compact drops any backing block (other than the first) whose cells are
// all currently free, letting the GC reclaim it. This is the Go-idiomatic
// equivalent of spec.md §4.D's block release: rather than scanning on
// every Free, a periodic caller (the master's periodic routine, spec.md
// §5) invokes Compact explicitly.
func (s *Slab[T]) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.blocks[:0]
	removed := make(map[*block[T]]bool)
	for _, b := range s.blocks {
		if b != s.firstBlock && b.freeCount == len(b.cells) {
			removed[b] = true
			continue
		}
		kept = append(kept, b)
	}
	s.blocks = kept

	// Rebuild the free list from scratch, keeping only cells whose block
	// survived, since splicing the old chain in place while discarding
	// interior nodes isn't a safe single pass.
	var newFree *cell[T]
	counted := map[*cell[T]]bool{}
	for c := s.freeHead; c != nil; c = c.next {
		counted[c] = true
	}
	for _, b := range s.blocks {
		for i := range b.cells {
			c := &b.cells[i]
			if counted[c] {
				c.next = newFree
				newFree = c
			}
		}
	}
	s.freeHead = newFree
}
