// Package dynhash implements the 128-bit fingerprint -> node map of
// spec.md §4.C: O(1) expected operations with incremental rehashing, two
// live bucket arrays during expansion, grounded on the teacher's
// evicting-queue style of keeping a small amount of generic container
// bookkeeping decoupled from the payload type (pkg/util/evicting_queue.go).
package dynhash

const (
	// initialSize is the starting bucket-array size S.
	initialSize = 16
	// maxSize bounds S, per spec.md §4.C ("S < 2^28").
	maxSize = 1 << 28
	// expandLoadFactor triggers expansion once the average chain length
	// reaches this value.
	expandLoadFactor = 10
)

// ID is the 128-bit fingerprint used as the map key.
type ID struct {
	Hi, Lo uint64
}

// Equal reports whether two IDs are the fully same 128 bits.
func (a ID) Equal(b ID) bool { return a.Hi == b.Hi && a.Lo == b.Lo }

func (a ID) bucketIndex(size uint64) uint64 {
	return (a.Hi ^ a.Lo) & (size - 1)
}

// Link is the intrusive chain pointer embedded in every hash table entry.
// Entries share this header the same way spec.md §9 describes a tagged
// sum type sharing a 16-byte id: items and passby entries both embed Link
// and are distinguished by their own tag bit, not by dynhash.
type Link struct {
	next Entry
	id   ID
}

// SetID stores the fingerprint this entry is keyed by. Must be called
// before Insert.
func (l *Link) SetID(id ID) { l.id = id }

// ID returns the fingerprint this entry is keyed by.
func (l *Link) ID() ID { return l.id }

// Entry is anything that can live in the table: it must expose its own
// Link via Chain() so Table can relink it without knowing the concrete
// payload type.
type Entry interface {
	Chain() *Link
}

// Table is the linear-hash map itself. Zero value is not ready; use New.
type Table struct {
	buckets     []Entry
	prevBuckets []Entry
	size        uint64 // len(buckets)
	prevSize    uint64 // len(prevBuckets), 0 when not expanding
	split       uint64 // next prevBuckets slot to migrate
	count       int
	expanding   bool
}

// New returns an empty table with the minimum bucket-array size.
func New() *Table {
	return &Table{
		buckets: make([]Entry, initialSize),
		size:    initialSize,
	}
}

// Len returns the number of entries currently stored.
func (t *Table) Len() int { return t.count }

// rehashStep migrates all chain members of prevBuckets[split] into
// buckets, per spec.md §4.C: "Any operation performs a small rehash step
// before proceeding." When split reaches prevSize, prevBuckets is
// released and expansion is complete.
func (t *Table) rehashStep() {
	if !t.expanding {
		return
	}
	e := t.prevBuckets[t.split]
	t.prevBuckets[t.split] = nil
	for e != nil {
		next := e.Chain().next
		t.insertIntoBuckets(e)
		e = next
	}
	t.split++
	if t.split >= t.prevSize {
		t.prevBuckets = nil
		t.prevSize = 0
		t.split = 0
		t.expanding = false
	}
}

func (t *Table) insertIntoBuckets(e Entry) {
	idx := e.Chain().id.bucketIndex(t.size)
	e.Chain().next = t.buckets[idx]
	t.buckets[idx] = e
}

// maybeExpand starts an expansion if the average chain length has
// reached expandLoadFactor and no prior expansion is in progress and
// size < maxSize.
func (t *Table) maybeExpand() {
	if t.expanding || t.size >= maxSize {
		return
	}
	if uint64(t.count) < t.size*expandLoadFactor {
		return
	}
	newSize := t.size * 2
	t.prevBuckets = t.buckets
	t.prevSize = t.size
	t.buckets = make([]Entry, newSize)
	t.size = newSize
	t.split = 0
	t.expanding = true
}

// Insert adds e, keyed by e.Chain().ID(), to the table.
func (t *Table) Insert(e Entry) {
	t.rehashStep()
	t.insertIntoBuckets(e)
	t.count++
	t.maybeExpand()
}

// Lookup returns the entry keyed by id, or nil.
func (t *Table) Lookup(id ID) Entry {
	t.rehashStep()

	for e := t.buckets[id.bucketIndex(t.size)]; e != nil; e = e.Chain().next {
		if e.Chain().id.Equal(id) {
			return e
		}
	}
	if t.expanding {
		idx := id.bucketIndex(t.prevSize)
		if idx >= t.split {
			for e := t.prevBuckets[idx]; e != nil; e = e.Chain().next {
				if e.Chain().id.Equal(id) {
					return e
				}
			}
		}
	}
	return nil
}

// Delete removes the entry keyed by id, if present, and returns it.
func (t *Table) Delete(id ID) Entry {
	t.rehashStep()

	idx := id.bucketIndex(t.size)
	var prev Entry
	for e := t.buckets[idx]; e != nil; e = e.Chain().next {
		if e.Chain().id.Equal(id) {
			if prev == nil {
				t.buckets[idx] = e.Chain().next
			} else {
				prev.Chain().next = e.Chain().next
			}
			e.Chain().next = nil
			t.count--
			return e
		}
		prev = e
	}
	if t.expanding {
		pidx := id.bucketIndex(t.prevSize)
		if pidx >= t.split {
			prev = nil
			for e := t.prevBuckets[pidx]; e != nil; e = e.Chain().next {
				if e.Chain().id.Equal(id) {
					if prev == nil {
						t.prevBuckets[pidx] = e.Chain().next
					} else {
						prev.Chain().next = e.Chain().next
					}
					e.Chain().next = nil
					t.count--
					return e
				}
				prev = e
			}
		}
	}
	return nil
}

// Each walks every live entry. Order is unspecified and must not be
// relied on across expansions.
func (t *Table) Each(fn func(Entry)) {
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.Chain().next {
			fn(e)
		}
	}
	if t.expanding {
		for i := t.split; i < t.prevSize; i++ {
			for e := t.prevBuckets[i]; e != nil; e = e.Chain().next {
				fn(e)
			}
		}
	}
}
