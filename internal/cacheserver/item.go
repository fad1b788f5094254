// Package cacheserver implements the server/tenant component of
// spec.md §4.F: per-server hash table keyed by request fingerprint, LRU
// ordering (per-server, or the shared LRU for capacity-less tenants),
// passby negative-cache entries, and per-item admission checks against
// item_max_size and capacity. A tenant's consumed bytes are not held to
// its capacity: space is reclaimed only by deletes, by expired items
// found on lookup, and by the eviction cascade when an allocation fails.
// Grounded on the
// teacher's per-tenant limits idiom (modules/overrides) generalized from
// rate limits to storage quotas, and on friggdb/backend/cache's
// read-through caching for the hit/miss/populate control flow shape.
package cacheserver

import (
	"time"

	"github.com/grafana/olivehc/internal/bucket"
	"github.com/grafana/olivehc/internal/device"
	"github.com/grafana/olivehc/internal/dynhash"
)

func blockSizeOf(length uint32) uint64 { return bucket.Quantize(uint64(length)) }

// Item flags, per spec.md §3.
type ItemFlags uint8

const (
	FlagPutting ItemFlags = 1 << iota
	FlagDeleted
	FlagBadBlock
)

func (f ItemFlags) has(bit ItemFlags) bool { return f&bit != 0 }

// Item is one cached HTTP response, stored contiguously on a device
// (spec.md §3). The owning device and server are referenced by slot index
// rather than by pointer (spec.md §9).
type Item struct {
	hashLink dynhash.Link
	order    device.OrderLink
	lru      LRUChain

	ServerIdx int
	DeviceIdx int
	offset    uint64

	Length     uint32 // headers + body, spec.md §3
	HeadersLen uint16
	Expire     int64 // absolute unix seconds
	Clear      uint32
	Flags      ItemFlags
	Used       uint16 // reader refcount
}

// --- dynhash.Entry ---

func (it *Item) Chain() *dynhash.Link { return &it.hashLink }

// IsPassby distinguishes a real item from a PassbyItem when a hash
// lookup returns either kind (spec.md §3, §9).
func (it *Item) IsPassby() bool { return false }

// --- device.Node ---

func (it *Item) Order() *device.OrderLink { return &it.order }
func (it *Item) Free() bool               { return false }
func (it *Item) Offset() uint64           { return it.offset }
func (it *Item) SetOffset(o uint64)       { it.offset = o }
func (it *Item) BlockSize() uint64        { return blockSizeOf(it.Length) }

// --- LRUNode ---

func (it *Item) LRULink() *LRUChain { return &it.lru }

// Putting reports whether the item is between allocation and a completed
// body write (spec.md §9 "Putting").
func (it *Item) Putting() bool  { return it.Flags.has(FlagPutting) }
func (it *Item) Deleted() bool  { return it.Flags.has(FlagDeleted) }
func (it *Item) BadBlock() bool { return it.Flags.has(FlagBadBlock) }

func (it *Item) setFlag(bit ItemFlags, v bool) {
	if v {
		it.Flags |= bit
	} else {
		it.Flags &^= bit
	}
}

func (it *Item) SetPutting(v bool)  { it.setFlag(FlagPutting, v) }
func (it *Item) SetDeleted(v bool)  { it.setFlag(FlagDeleted, v) }
func (it *Item) SetBadBlock(v bool) { it.setFlag(FlagBadBlock, v) }

// ExpireTime returns Expire as a time.Time for comparisons.
func (it *Item) ExpireTime() time.Time { return time.Unix(it.Expire, 0) }

// Expired reports whether the item's absolute expiration has passed.
func (it *Item) Expired(now time.Time) bool { return !it.ExpireTime().After(now) }
