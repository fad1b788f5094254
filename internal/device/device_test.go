package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/olivehc/internal/bucket"
)

type testItem struct {
	order  OrderLink
	offset uint64
	length uint64
	used   bool
}

func (it *testItem) Order() *OrderLink  { return &it.order }
func (it *testItem) Free() bool         { return false }
func (it *testItem) Offset() uint64     { return it.offset }
func (it *testItem) SetOffset(o uint64) { it.offset = o }
func (it *testItem) BlockSize() uint64  { return bucket.Quantize(it.length) }

func newTestDevice(t *testing.T, capacity uint64) *Device {
	t.Helper()
	d := &Device{Capacity: capacity, BadBlockPercent: DefaultBadBlockPercent}
	fb := &FreeBlock{offset: 0, size: capacity}
	d.appendTail(fb)
	d.free.Add(&fb.bucketBlock, fb.size)
	return d
}

func TestAllocateAndConsumedAccounting(t *testing.T) {
	d := newTestDevice(t, 1<<20)
	it := &testItem{length: 100}
	bsize, err := d.GetFreeBlock(it, it.length)
	require.NoError(t, err)
	require.Equal(t, bucket.Quantize(100), bsize)
	require.Equal(t, bsize, d.Consumed)
	require.Equal(t, 1, d.ItemNr)
}

func TestAllocationSplitsFromHighEnd(t *testing.T) {
	d := newTestDevice(t, 1<<20)
	it := &testItem{length: 1000} // quantizes to 1024
	_, err := d.GetFreeBlock(it, it.length)
	require.NoError(t, err)
	require.Equal(t, (1<<20)-bucket.Quantize(1000), it.offset)
}

func TestReleaseCoalescesBothNeighbors(t *testing.T) {
	d := newTestDevice(t, 1<<20)
	a := &testItem{length: 512}
	b := &testItem{length: 512}
	c := &testItem{length: 512}
	_, err := d.GetFreeBlock(a, a.length)
	require.NoError(t, err)
	_, err = d.GetFreeBlock(b, b.length)
	require.NoError(t, err)
	_, err = d.GetFreeBlock(c, c.length)
	require.NoError(t, err)

	// release a and c (now isolated free blocks), then b: should coalesce
	// with both into a single run.
	d.ReturnFreeBlock(a, false)
	d.ReturnFreeBlock(c, false)
	d.ReturnFreeBlock(b, false)

	// whole device should be a single free block of full capacity again.
	biggest := d.free.Biggest()
	require.NotNil(t, biggest)
	fb, ok := asFreeBlock(biggest)
	require.True(t, ok)
	require.Equal(t, uint64(1<<20), fb.size)
}

func TestReleaseBadBlockCreditsBudgetAndSignalsThreshold(t *testing.T) {
	d := newTestDevice(t, 1000)
	d.BadBlockPercent = 1
	it := &testItem{length: 512}
	_, err := d.GetFreeBlock(it, it.length)
	require.NoError(t, err)

	over := d.ReturnFreeBlock(it, true)
	require.True(t, over)
	require.Equal(t, uint64(512), d.BadBlock)
}

func TestGetFreeBlockNoSpace(t *testing.T) {
	d := newTestDevice(t, 512)
	a := &testItem{length: 512}
	_, err := d.GetFreeBlock(a, a.length)
	require.NoError(t, err)

	b := &testItem{length: 512}
	_, err = d.GetFreeBlock(b, b.length)
	require.ErrorIs(t, err, ErrNoSpace)
}

type stubEvictor struct {
	evicted []Node
}

func (s *stubEvictor) TryEvict(n Node) bool {
	it := n.(*testItem)
	if it.used {
		return false
	}
	s.evicted = append(s.evicted, n)
	return true
}

func TestCutFreeBlockAtLoad(t *testing.T) {
	d := newTestDevice(t, 1<<20)
	it := &testItem{offset: 4096, length: 100}
	err := d.CutFreeBlock(it, it.length)
	require.NoError(t, err)
	require.Equal(t, 1, d.ItemNr)

	// leading gap [0,4096) should now be its own free block.
	head := d.Head()
	fb, ok := asFreeBlock(head)
	require.True(t, ok)
	require.Equal(t, uint64(0), fb.offset)
	require.Equal(t, uint64(4096), fb.size)
}
