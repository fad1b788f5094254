package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	A, B int64
	S    string
}

func TestAllocFreeReuse(t *testing.T) {
	s := New[payload]()
	p1 := s.Alloc()
	p1.A = 42
	s.Free(p1)

	p2 := s.Alloc()
	require.Equal(t, int64(0), p2.A, "freed cell must be zeroed on reuse")
}

func TestAllocGrowsAcrossBlocks(t *testing.T) {
	s := New[payload]()
	n := s.perBlock*2 + 5
	ptrs := make([]*payload, n)
	for i := range ptrs {
		ptrs[i] = s.Alloc()
		ptrs[i].A = int64(i)
	}
	for i, p := range ptrs {
		require.Equal(t, int64(i), p.A)
	}
	require.GreaterOrEqual(t, len(s.blocks), 3)
}

func TestCompactDropsEmptyNonFirstBlocks(t *testing.T) {
	s := New[payload]()
	n := s.perBlock + 1 // forces a second block
	ptrs := make([]*payload, n)
	for i := range ptrs {
		ptrs[i] = s.Alloc()
	}
	require.Equal(t, 2, len(s.blocks))

	// free everything in the second block only
	for i := s.perBlock; i < n; i++ {
		s.Free(ptrs[i])
	}
	s.Compact()
	require.Equal(t, 1, len(s.blocks), "second block should be reclaimed")

	// first block stays even though nothing has been freed from it
	require.Same(t, s.firstBlock, s.blocks[0])
}

func TestFirstBlockNeverReleased(t *testing.T) {
	s := New[payload]()
	p := s.Alloc()
	s.Free(p)
	s.Compact()
	require.Equal(t, 1, len(s.blocks))
}
