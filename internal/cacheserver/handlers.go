package cacheserver

import (
	"time"

	"github.com/grafana/olivehc/internal/device"
	"github.com/grafana/olivehc/internal/dynhash"
)

// Get implements spec.md §4.F's GET/HEAD handler.
func (m *Manager) Get(srv *Server, id dynhash.ID, now time.Time) (*Item, Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := srv.Hash.Lookup(id)
	if entry == nil {
		srv.Stats.Misses.Add(1)
		return nil, OutcomeMiss
	}
	if entry.(HashEntry).IsPassby() {
		p := entry.(*PassbyItem)
		srv.PassbyLRU.MoveFront(p)
		srv.Stats.PassbyHits.Add(1)
		return nil, OutcomePassby
	}

	it := entry.(*Item)
	if it.Putting() || it.Deleted() || !m.itemValid(srv, it, now) {
		if it.Expired(now) && !it.Deleted() {
			m.deleteItemLocked(srv, it)
		}
		srv.Stats.Misses.Add(1)
		return nil, OutcomeMiss
	}

	it.Used++
	m.lruFor(srv).MoveFront(it)
	srv.Stats.Hits.Add(1)
	return it, OutcomeHit
}

// itemValid adds the device-deleted half of spec.md §4.F's
// server_item_valid predicate to Server.ItemValid, which only knows the
// tenant-side conditions.
func (m *Manager) itemValid(srv *Server, it *Item, now time.Time) bool {
	d, ok := m.Devices.Get(it.DeviceIdx)
	if !ok || d.Deleted {
		return false
	}
	return srv.ItemValid(it, now)
}

// Release drops one reader reference. If the item was marked deleted
// while readers were outstanding (spec.md §3's deferred-deletion rule),
// the last release performs the actual free.
func (m *Manager) Release(srv *Server, it *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it.Used > 0 {
		it.Used--
	}
	if it.Used == 0 && it.Deleted() && !it.Putting() {
		m.finalizeFree(srv, it)
	}
}

// Delete implements spec.md §4.F's DELETE/PURGE handler and §3's
// deferred-deletion rule.
func (m *Manager) Delete(srv *Server, id dynhash.ID) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := srv.Hash.Lookup(id)
	if entry == nil {
		return OutcomeNotFound
	}
	if entry.(HashEntry).IsPassby() {
		p := entry.(*PassbyItem)
		srv.Hash.Delete(id)
		srv.PassbyLRU.Remove(p)
		m.freePassby(p)
		return OutcomeDeleted
	}
	it := entry.(*Item)
	m.deleteItemLocked(srv, it)
	return OutcomeDeleted
}

// deleteItemLocked unlinks it from the hash (invariant 4, spec.md §8:
// "an item that has ever had deleted=1 is not reachable through any
// server hash") and, if no reader/write is outstanding, frees it
// immediately; otherwise defers the free to the last Release.
func (m *Manager) deleteItemLocked(srv *Server, it *Item) {
	srv.Hash.Delete(it.Chain().ID())
	it.SetDeleted(true)
	if it.Used > 0 || it.Putting() {
		return // deferred: stays on the order list and the LRU until the last Release
	}
	m.finalizeFree(srv, it)
}

// finalizeFree removes it from its LRU, returns its space to the owning
// device, and returns the Item to the slab.
func (m *Manager) finalizeFree(srv *Server, it *Item) {
	m.lruFor(srv).Remove(it)
	srv.Consumed.Add(-uint64(it.BlockSize()))
	srv.ItemNr.Add(-1)
	if d, ok := m.Devices.Get(it.DeviceIdx); ok {
		if d.ReturnFreeBlock(it, it.BadBlock()) {
			m.Devices.Kick(it.DeviceIdx)
		}
	}
	m.freeItem(it)
}

// PutRequest bundles the parameters spec.md §4.F's PUT/POST handler
// needs.
type PutRequest struct {
	ID         dynhash.ID
	Length     uint64
	HeadersLen uint16
	// ParsedExpire is the max-age/Expires-derived expiration already
	// computed by the request layer, if any was present and valid.
	ParsedExpire    time.Time
	HasParsedExpire bool
	Strict          bool // true for PUT (always replace), false for POST (store-if-absent)
}

// Put implements spec.md §4.F's PUT/POST handler, including the passby
// promotion path and the 2/3/3/3 eviction cascade.
func (m *Manager) Put(srv *Server, req PutRequest, now time.Time) (*Item, Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if srv.ItemMaxSize > 0 && req.Length > srv.ItemMaxSize {
		return nil, OutcomeTooBigItem1
	}
	if srv.Capacity > 0 && req.Length > srv.Capacity {
		return nil, OutcomeTooBigItem2
	}

	expire := m.resolveExpire(srv, req, now)

	if entry := srv.Hash.Lookup(req.ID); entry != nil {
		if entry.(HashEntry).IsPassby() {
			p := entry.(*PassbyItem)
			srv.Hash.Delete(req.ID)
			srv.PassbyLRU.Remove(p)
			m.freePassby(p)
		} else {
			it := entry.(*Item)
			if m.itemValid(srv, it, now) && !it.Deleted() {
				if !req.Strict {
					srv.Stats.Declines.Add(1)
					return nil, OutcomeDeclinedExist
				}
				m.deleteItemLocked(srv, it)
			} else {
				m.deleteItemLocked(srv, it)
			}
		}
	} else {
		if srv.Passby.Enable &&
			int(srv.ItemNr.Load()) >= srv.Passby.BeginItemNr &&
			srv.Consumed.Load() >= srv.Passby.BeginConsumed &&
			srv.PassbyLRU.Len() < srv.Passby.LimitNr {
			p := m.newPassby()
			p.Chain().SetID(req.ID)
			p.Expire = now.Add(srv.Passby.Expire).Unix()
			srv.Hash.Insert(p)
			srv.PassbyLRU.PushFront(p)
			srv.Stats.Declines.Add(1)
			return nil, OutcomeStorePassby
		}
	}

	it := m.newItem()
	it.Chain().SetID(req.ID)
	did, bsize, ok := m.allocate(srv, it, req.Length)
	if !ok {
		m.freeItem(it)
		return nil, OutcomeNoSpace
	}

	it.ServerIdx = srv.SlotIdx
	it.DeviceIdx = did
	it.Length = uint32(req.Length)
	it.HeadersLen = req.HeadersLen
	it.Expire = expire.Unix()
	it.Clear = srv.Clear.Load()

	// Put records the item's metadata and device placement only; it writes
	// no body bytes. The item leaves Put readable: Putting is never set
	// here, so a Get that follows sees it as a hit.
	it.SetPutting(false)

	srv.Hash.Insert(it)
	m.lruFor(srv).PushFront(it)
	srv.Consumed.Add(bsize)
	srv.ItemNr.Add(1)
	srv.Stats.Stores.Add(1)

	return it, OutcomeStored
}

func (m *Manager) resolveExpire(srv *Server, req PutRequest, now time.Time) time.Time {
	if srv.ExpireForce > 0 {
		return now.Add(srv.ExpireForce)
	}
	if req.HasParsedExpire && req.ParsedExpire.After(now) {
		return req.ParsedExpire
	}
	return now.Add(srv.ExpireDefault)
}

// allocate runs spec.md §4.F's eviction cascade: try the current
// device directly, then (i) evict up to 2 from the tenant's own LRU,
// (ii) up to 3 from the shared LRU, (iii) up to 3 more from the tenant's
// own LRU, (iv) free_block_extend bounded to 3 iterations.
func (m *Manager) allocate(srv *Server, it *Item, length uint64) (deviceIdx int, bsize uint64, ok bool) {
	did, dev := m.nextDevice()
	if dev == nil {
		return 0, 0, false
	}

	try := func() bool {
		sz, err := dev.GetFreeBlock(it, length)
		if err == nil {
			bsize = sz
			return true
		}
		return false
	}
	if try() {
		return did, bsize, true
	}

	ownLRU := srv.LRU
	if ownLRU == nil {
		ownLRU = m.SharedLRU
	}

	m.evictN(srv, ownLRU, 2)
	if try() {
		return did, bsize, true
	}
	m.evictN(srv, m.SharedLRU, 3)
	if try() {
		return did, bsize, true
	}
	m.evictN(srv, ownLRU, 3)
	if try() {
		return did, bsize, true
	}

	ev := &lruEvictor{m: m}
	if _, ok := dev.FreeBlockExtend(length, ev, 3); ok {
		if try() {
			return did, bsize, true
		}
	}
	return 0, 0, false
}

// evictN evicts up to n entries from the back of lru, skipping any item
// currently in use or being written (spec.md §4.B/§4.F).
func (m *Manager) evictN(srv *Server, lru *LRU, n int) {
	for i := 0; i < n; i++ {
		if !m.evictOne(lru) {
			return
		}
	}
}

func (m *Manager) evictOne(lru *LRU) bool {
	node := lru.Back()
	for node != nil {
		it, ok := node.(*Item)
		if !ok {
			return false
		}
		if it.Used > 0 || it.Putting() {
			node = node.LRULink().prev
			continue
		}
		ownerSrv, found := m.Servers.Get(it.ServerIdx)
		if !found {
			return false
		}
		ownerSrv.Stats.Evictions.Add(1)
		m.deleteItemLocked(ownerSrv, it)
		return true
	}
	return false
}

// lruEvictor adapts Manager.evictOne-style eviction to device.Evictor for
// FreeBlockExtend's neighbor eviction (spec.md §4.B).
type lruEvictor struct{ m *Manager }

func (e *lruEvictor) TryEvict(n device.Node) bool {
	it, ok := n.(*Item)
	if !ok || it.Used > 0 || it.Putting() {
		return false
	}
	srv, found := e.m.Servers.Get(it.ServerIdx)
	if !found {
		return false
	}
	e.m.deleteItemLocked(srv, it)
	return true
}
