package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeSequence(t *testing.T) {
	// spec.md §4.A: {512, 1024, 1536, 2048, 2560, 3072, 3584, 4096, 5120, ...}
	want := []uint64{512, 1024, 1536, 2048, 2560, 3072, 3584, 4096, 5120, 6144, 7168, 8192, 10240}
	for _, w := range want {
		require.Equal(t, w, Quantize(w), "quantize(%d)", w)
	}
}

func TestQuantizeRoundsUp(t *testing.T) {
	require.Equal(t, uint64(512), Quantize(1))
	require.Equal(t, uint64(512), Quantize(512))
	require.Equal(t, uint64(1024), Quantize(513))
	require.Equal(t, uint64(1536), Quantize(1025))
	require.Equal(t, uint64(2048), Quantize(1537))
}

func TestQuantizeIdempotentAndMonotone(t *testing.T) {
	prev := uint64(0)
	for n := uint64(1); n < 1<<20; n += 37 {
		q := Quantize(n)
		require.Equal(t, q, Quantize(q), "idempotent at %d", n)
		require.GreaterOrEqual(t, q, prev, "monotone at %d", n)
		prev = q
	}
}

func TestAddGetExactFitPrefersHead(t *testing.T) {
	var idx Index
	a := &Block{}
	b := &Block{}
	idx.Add(a, 512)
	idx.Add(b, 512)
	// b was added after a, both exact fits at head -> b should come out first
	got := idx.Get(512)
	require.Same(t, b, got)
}

func TestGetBestFit(t *testing.T) {
	var idx Index
	small := &Block{}
	big := &Block{}
	idx.Add(small, 512)
	idx.Add(big, 4096)
	got := idx.Get(600) // rounds up to 1024 bucket; nothing there, should skip to 4096
	require.Same(t, big, got)
}

func TestGetReturnsNilWhenNothingBigEnough(t *testing.T) {
	var idx Index
	b := &Block{}
	idx.Add(b, 512)
	require.Nil(t, idx.Get(4096))
}

func TestBiggestDoesNotUnlink(t *testing.T) {
	var idx Index
	a := &Block{}
	idx.Add(a, 8192)
	got := idx.Biggest()
	require.Same(t, a, got)
	require.True(t, a.Bucketed)
}

func TestUpdateReindexes(t *testing.T) {
	var idx Index
	a := &Block{}
	idx.Add(a, 512)
	idx.Update(a, 4096)
	require.Nil(t, idx.Get(8192))
	got := idx.Get(4096)
	require.Same(t, a, got)
}
