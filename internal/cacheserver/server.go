package cacheserver

import (
	"sync/atomic"
	"time"

	"github.com/grafana/olivehc/internal/dynhash"
)

// KeyPolicy controls what the request fingerprint is computed over,
// spec.md §4.F.
type KeyPolicy struct {
	IncludeHost   bool
	IncludeOHCKey bool
	IncludeQuery  bool // false (default): query string is stripped before hashing
}

// PassbyPolicy is the server's negative-cache configuration, spec.md
// §4.F / §8 scenario 5.
type PassbyPolicy struct {
	Enable          bool
	BeginItemNr     int
	BeginConsumed   uint64
	LimitNr         int
	Expire          time.Duration
}

// Stats are the per-server counters updated by the Get, Put and eviction
// paths of Manager.
type Stats struct {
	Hits       atomic.Int64
	Misses     atomic.Int64
	PassbyHits atomic.Int64
	Stores     atomic.Int64
	Declines   atomic.Int64
	Evictions  atomic.Int64
}

// Server is one cache tenant (spec.md §3 "Server").
type Server struct {
	Port int

	// SlotIdx is this tenant's own index in Manager.Servers, stamped by
	// AddServer. Items reference their owning server by this index rather
	// than by pointer (spec.md §9).
	SlotIdx int

	Hash      *dynhash.Table
	LRU       *LRU // nil when Capacity == 0; shared LRU is used instead
	PassbyLRU *LRU

	Capacity      uint64 // 0 means "capacity-less": uses the shared LRU
	ItemMaxSize   uint64
	ConnectionCap int

	RecvTimeout      time.Duration
	SendTimeout      time.Duration
	KeepAliveTimeout time.Duration
	RequestTimeout   time.Duration

	Keys   KeyPolicy
	Passby PassbyPolicy

	ExpireDefault time.Duration
	ExpireForce   time.Duration // 0 means "not forced"

	ServerDump bool // included in device_format_store, spec.md §4.I

	Clear   atomic.Uint32 // invalidate-all generation, spec.md §4.F
	Deleted bool

	Consumed atomic.Uint64
	ItemNr   atomic.Int64

	Stats Stats
}

// NewServer returns a Server ready to accept requests, with its own hash
// table and passby LRU and, if capacity > 0, its own LRU.
func NewServer(port int, capacity uint64) *Server {
	s := &Server{
		Port:      port,
		Hash:      dynhash.New(),
		PassbyLRU: &LRU{},
		Capacity:  capacity,
	}
	if capacity > 0 {
		s.LRU = &LRU{}
	}
	return s
}

// CapacityLess reports whether this tenant uses the process-wide shared
// LRU rather than its own (spec.md §4.F).
func (s *Server) CapacityLess() bool { return s.Capacity == 0 }

// IncClear bumps the invalidate-all generation (spec.md §4.F `clear`).
func (s *Server) IncClear() uint32 { return s.Clear.Add(1) }

// ItemValid implements spec.md §4.F's server_item_valid predicate:
// !item.device.deleted && !item.server.deleted && item.clear ==
// server.clear && item.expire > now. The device-deleted half is checked
// by the caller, which has the device handle; this half checks what the
// server alone knows.
func (s *Server) ItemValid(it *Item, now time.Time) bool {
	if s.Deleted {
		return false
	}
	if it.Clear != s.Clear.Load() {
		return false
	}
	if it.Expired(now) {
		return false
	}
	return true
}
