package device

// OrderLink is the intrusive doubly-linked list node embedded in every
// entity that can sit on a device's order list: both items and free
// blocks, per spec.md §3/§9 ("order-list node tag"). The list is kept in
// strict ascending offset order (invariant 1, spec.md §8); that ordering
// is what makes release-path coalescing an O(1) neighbor check instead of
// a search.
type OrderLink struct {
	prev, next Node
}

// Node is anything that can be threaded onto a device's order list: a
// live Item (owned by package cacheserver) or a FreeBlock (owned here).
// Free() is the single bit spec.md §9 calls out as the discriminator a
// coalescing pass needs to check before deciding a neighbor is mergeable.
type Node interface {
	Order() *OrderLink
	Free() bool
	Offset() uint64
	SetOffset(uint64)
	// BlockSize is the quantized size this node occupies on the device,
	// i.e. bucket.Quantize(length) for an item, or the free block's own
	// size for a free block.
	BlockSize() uint64
}

// insertBefore splices n immediately before mark in the order list. If
// mark is nil, n is appended at the tail.
func (d *Device) insertBefore(n, mark Node) {
	if mark == nil {
		d.appendTail(n)
		return
	}
	prev := mark.Order().prev
	n.Order().prev = prev
	n.Order().next = mark
	mark.Order().prev = n
	if prev != nil {
		prev.Order().next = n
	} else {
		d.orderHead = n
	}
}

func (d *Device) appendTail(n Node) {
	n.Order().prev = d.orderTail
	n.Order().next = nil
	if d.orderTail != nil {
		d.orderTail.Order().next = n
	} else {
		d.orderHead = n
	}
	d.orderTail = n
}

// unlink removes n from the order list without inspecting its type.
func (d *Device) unlink(n Node) {
	prev := n.Order().prev
	next := n.Order().next
	if prev != nil {
		prev.Order().next = next
	} else {
		d.orderHead = next
	}
	if next != nil {
		next.Order().prev = prev
	} else {
		d.orderTail = prev
	}
	n.Order().prev = nil
	n.Order().next = nil
}

// Neighbors returns the order-list predecessor and successor of n.
func (d *Device) Neighbors(n Node) (prev, next Node) {
	return n.Order().prev, n.Order().next
}

// Head returns the first (lowest-offset) node on the order list.
func (d *Device) Head() Node { return d.orderHead }

// Walk visits every node in ascending offset order.
func (d *Device) Walk(fn func(Node)) {
	for n := d.orderHead; n != nil; n = n.Order().next {
		fn(n)
	}
}
