// Package timerwheel implements the grouped timer of spec.md §4.E:
// requests commonly share exact timeout durations (recv_timeout,
// send_timeout, keepalive_timeout, request_timeout), so rather than a
// single sorted structure the wheel keeps one FIFO per distinct
// duration. Because every node in a group shares the same duration, the
// group's head always holds the earliest deadline, giving O(1) expiry
// checks. Grounded on the teacher's per-duration bucketing idea in
// pkg/util.RateLimitedLogger (one rate-limiter per call site), here
// generalized to per-duration FIFOs of deadlines.
package timerwheel

import "time"

// Node is one scheduled deadline. The zero value is not usable; nodes
// are created by Wheel.Schedule.
type Node[T any] struct {
	Value    T
	deadline time.Time
	timeout  time.Duration
	prev, next *Node[T]
	grp      *group[T]
}

// Deadline returns the absolute time this node expires at.
func (n *Node[T]) Deadline() time.Time { return n.deadline }

type group[T any] struct {
	timeout    time.Duration
	head, tail *Node[T]
}

func (g *group[T]) pushTail(n *Node[T]) {
	n.grp = g
	n.prev = g.tail
	n.next = nil
	if g.tail != nil {
		g.tail.next = n
	} else {
		g.head = n
	}
	g.tail = n
}

func (g *group[T]) unlink(n *Node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		g.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		g.tail = n.prev
	}
	n.prev, n.next, n.grp = nil, nil, nil
}

// Wheel is the grouped timer itself.
type Wheel[T any] struct {
	groups map[time.Duration]*group[T]
}

// New returns an empty Wheel.
func New[T any]() *Wheel[T] {
	return &Wheel[T]{groups: make(map[time.Duration]*group[T])}
}

func (w *Wheel[T]) groupFor(timeout time.Duration) *group[T] {
	g, ok := w.groups[timeout]
	if !ok {
		g = &group[T]{timeout: timeout}
		w.groups[timeout] = g
	}
	return g
}

// Schedule inserts value with an absolute deadline of now+timeout, at the
// tail of the group for that exact timeout duration.
func (w *Wheel[T]) Schedule(value T, timeout time.Duration, now time.Time) *Node[T] {
	n := &Node[T]{Value: value, timeout: timeout, deadline: now.Add(timeout)}
	w.groupFor(timeout).pushTail(n)
	return n
}

// Cancel removes n from the wheel before it expires (e.g. the request it
// guards finished on its own).
func (w *Wheel[T]) Cancel(n *Node[T]) {
	if n.grp == nil {
		return
	}
	g := n.grp
	g.unlink(n)
	if g.head == nil && g.tail == nil {
		delete(w.groups, g.timeout)
	}
}

// Update keeps n in its current group (moved to the tail, with a refreshed
// deadline) when newTimeout equals its existing timeout; otherwise it is
// unlinked and reinserted into the appropriate group, per spec.md §4.E.
func (w *Wheel[T]) Update(n *Node[T], newTimeout time.Duration, now time.Time) {
	if n.grp != nil && n.timeout == newTimeout {
		g := n.grp
		g.unlink(n)
		n.deadline = now.Add(newTimeout)
		g.pushTail(n)
		return
	}
	w.Cancel(n)
	n.timeout = newTimeout
	n.deadline = now.Add(newTimeout)
	w.groupFor(newTimeout).pushTail(n)
}

// Expire scans every group's head and moves expired nodes (deadline <=
// now) to the returned slice, stopping at the first non-expired head per
// group, per spec.md §4.E.
func (w *Wheel[T]) Expire(now time.Time) []T {
	var expired []T
	for timeout, g := range w.groups {
		for g.head != nil && !g.head.deadline.After(now) {
			n := g.head
			g.unlink(n)
			expired = append(expired, n.Value)
		}
		if g.head == nil {
			delete(w.groups, timeout)
		}
	}
	return expired
}

// Len returns the total number of scheduled nodes across all groups.
func (w *Wheel[T]) Len() int {
	n := 0
	for _, g := range w.groups {
		for c := g.head; c != nil; c = c.next {
			n++
		}
	}
	return n
}
