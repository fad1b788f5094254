package dynhash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type testEntry struct {
	link Link
	val  string
}

func (e *testEntry) Chain() *Link { return &e.link }

func newEntry(hi, lo uint64, val string) *testEntry {
	e := &testEntry{val: val}
	e.link.SetID(ID{Hi: hi, Lo: lo})
	return e
}

func TestInsertLookupDelete(t *testing.T) {
	tb := New()
	e := newEntry(1, 2, "a")
	tb.Insert(e)
	require.Equal(t, 1, tb.Len())

	got := tb.Lookup(ID{Hi: 1, Lo: 2})
	require.NotNil(t, got)
	require.Equal(t, "a", got.(*testEntry).val)

	require.Nil(t, tb.Lookup(ID{Hi: 9, Lo: 9}))

	del := tb.Delete(ID{Hi: 1, Lo: 2})
	require.NotNil(t, del)
	require.Equal(t, 0, tb.Len())
	require.Nil(t, tb.Lookup(ID{Hi: 1, Lo: 2}))
}

func TestExpansionPreservesAllEntries(t *testing.T) {
	tb := New()
	n := initialSize*expandLoadFactor + 50
	for i := 0; i < n; i++ {
		tb.Insert(newEntry(uint64(i), uint64(i*7+1), fmt.Sprintf("v%d", i)))
	}
	require.Equal(t, n, tb.Len())

	// force remaining rehash steps to complete by touching every slot
	for i := 0; i < n; i++ {
		got := tb.Lookup(ID{Hi: uint64(i), Lo: uint64(i*7 + 1)})
		require.NotNil(t, got, "entry %d missing after expansion", i)
		require.Equal(t, fmt.Sprintf("v%d", i), got.(*testEntry).val)
	}
	require.False(t, tb.expanding)
}

func TestDeleteDuringExpansion(t *testing.T) {
	tb := New()
	n := initialSize*expandLoadFactor + 5
	ids := make([]ID, 0, n)
	for i := 0; i < n; i++ {
		id := ID{Hi: uint64(i), Lo: uint64(i*3 + 1)}
		ids = append(ids, id)
		tb.Insert(newEntry(id.Hi, id.Lo, "x"))
	}
	require.True(t, tb.expanding)

	// delete a handful without forcing full rehash completion
	for i := 0; i < 3; i++ {
		got := tb.Delete(ids[i])
		require.NotNil(t, got, "delete %d", i)
	}
	require.Equal(t, n-3, tb.Len())
}

func TestEachVisitsAllDuringExpansion(t *testing.T) {
	tb := New()
	n := initialSize*expandLoadFactor + 5
	for i := 0; i < n; i++ {
		tb.Insert(newEntry(uint64(i), uint64(i), "x"))
	}
	seen := 0
	tb.Each(func(Entry) { seen++ })
	require.Equal(t, n, seen)
}
