package timerwheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpireOrdersWithinGroup(t *testing.T) {
	w := New[string]()
	base := time.Unix(1000, 0)
	w.Schedule("a", 5*time.Second, base)
	w.Schedule("b", 5*time.Second, base.Add(time.Second))
	w.Schedule("c", 5*time.Second, base.Add(2*time.Second))

	expired := w.Expire(base.Add(6 * time.Second))
	require.ElementsMatch(t, []string{"a", "b"}, expired)
	require.Equal(t, 1, w.Len())
}

func TestDistinctGroupsPerTimeout(t *testing.T) {
	w := New[string]()
	base := time.Unix(0, 0)
	w.Schedule("short", 1*time.Second, base)
	w.Schedule("long", 60*time.Second, base)

	expired := w.Expire(base.Add(2 * time.Second))
	require.Equal(t, []string{"short"}, expired)
	require.Equal(t, 1, w.Len())
}

func TestUpdateSameTimeoutMovesToTail(t *testing.T) {
	w := New[string]()
	base := time.Unix(0, 0)
	a := w.Schedule("a", 10*time.Second, base)
	w.Schedule("b", 10*time.Second, base.Add(time.Second))

	// refresh a's deadline far later; it should no longer expire before b.
	w.Update(a, 10*time.Second, base.Add(20*time.Second))

	expired := w.Expire(base.Add(11 * time.Second))
	require.Equal(t, []string{"b"}, expired)
}

func TestUpdateDifferentTimeoutReGroups(t *testing.T) {
	w := New[string]()
	base := time.Unix(0, 0)
	n := w.Schedule("a", 10*time.Second, base)
	w.Update(n, 1*time.Second, base)

	expired := w.Expire(base.Add(2 * time.Second))
	require.Equal(t, []string{"a"}, expired)
}

func TestCancelRemovesNode(t *testing.T) {
	w := New[string]()
	base := time.Unix(0, 0)
	n := w.Schedule("a", time.Second, base)
	w.Cancel(n)
	require.Equal(t, 0, w.Len())
	require.Empty(t, w.Expire(base.Add(time.Hour)))
}
