package cacheserver

import (
	"sync"

	"github.com/grafana/olivehc/internal/device"
	"github.com/grafana/olivehc/internal/slab"
	"github.com/grafana/olivehc/internal/slot"
)

// Manager owns the process-wide tenant list, the shared LRU used by
// capacity-less servers, and the item/passby slab allocators (spec.md
// §9: "process-global singletons... servers list, shared-LRU list").
type Manager struct {
	mu sync.Mutex

	Servers   *slot.Table[*Server]
	SharedLRU *LRU
	Devices   *device.Manager

	items   *slab.Slab[Item]
	passbys *slab.Slab[PassbyItem]

	// deviceCursor round-robins PUTs across devices; a full allocation
	// strategy (affinity, striping) is left to the config's device
	// ordering, per spec.md §9's Open Questions — this is the simplest
	// policy that satisfies "a common pool of storage devices" (spec.md
	// §1).
	deviceCursor int
}

// NewManager wires a tenant manager against an already-populated device
// manager.
func NewManager(devices *device.Manager) *Manager {
	return &Manager{
		Servers:   slot.New[*Server](),
		SharedLRU: &LRU{},
		Devices:   devices,
		items:     slab.New[Item](),
		passbys:   slab.New[PassbyItem](),
	}
}

// AddServer registers srv and returns its slot index.
func (m *Manager) AddServer(srv *Server) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.Servers.Acquire(srv)
	if err != nil {
		return slot.None, err
	}
	srv.SlotIdx = idx
	return idx, nil
}

// GetServer returns the tenant at idx.
func (m *Manager) GetServer(idx int) (*Server, bool) {
	return m.Servers.Get(idx)
}

// newItem draws a zeroed Item from the slab.
func (m *Manager) newItem() *Item { return m.items.Alloc() }

func (m *Manager) freeItem(it *Item) { m.items.Free(it) }

func (m *Manager) newPassby() *PassbyItem { return m.passbys.Alloc() }

func (m *Manager) freePassby(p *PassbyItem) { m.passbys.Free(p) }

// lruFor returns the LRU an item of srv belongs on: the tenant's own LRU
// if it has a capacity, the shared LRU otherwise (spec.md §4.F).
func (m *Manager) lruFor(srv *Server) *LRU {
	if srv.LRU != nil {
		return srv.LRU
	}
	return m.SharedLRU
}

// nextDevice round-robins to the next device slot with a live (non-
// deleted, non-kicked) device.
func (m *Manager) nextDevice() (int, *device.Device) {
	n := slot.Limit
	for i := 0; i < n; i++ {
		idx := m.deviceCursor
		m.deviceCursor = (m.deviceCursor + 1) % n
		d, ok := m.Devices.Get(idx)
		if ok && d != nil && !d.Deleted && !d.Kicked {
			return idx, d
		}
	}
	return slot.None, nil
}
