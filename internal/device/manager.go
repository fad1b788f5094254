package device

import (
	"sync"

	"github.com/grafana/olivehc/internal/slot"
)

// Manager owns the process-wide devices list (spec.md §9: "process-global
// singletons... devices list"). Devices are referenced elsewhere by their
// slot index (spec.md §9's index-by-integer optimization).
type Manager struct {
	mu      sync.Mutex
	Table   *slot.Table[*Device]
	Deleted []*Device // deleted_* teardown queue, drained piecewise (spec.md §4.J)
}

// NewManager returns an empty device manager.
func NewManager() *Manager {
	return &Manager{Table: slot.New[*Device]()}
}

// Add registers d and returns its slot index.
func (m *Manager) Add(d *Device) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Table.Acquire(d)
}

// Get returns the device at idx, if any (a kicked device's slot still
// returns its hollow placeholder so status display keeps working).
func (m *Manager) Get(idx int) (*Device, bool) {
	return m.Table.Get(idx)
}

// Kick replaces the live device at idx with a hollow placeholder that
// preserves path/identity for status display, and moves the live device
// to the deletion queue (spec.md §4.B).
func (m *Manager) Kick(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, ok := m.Table.Get(idx)
	if !ok {
		return
	}
	placeholder := &Device{
		Path:     live.Path,
		Identity: live.Identity,
		Kicked:   true,
		Capacity: live.Capacity,
		BadBlock: live.BadBlock,
	}
	m.Table.Set(idx, placeholder)
	live.Deleted = true
	m.Deleted = append(m.Deleted, live)
}

// MarkDeleted moves the device at idx to the deletion queue without
// kicking it (used for config-driven device removal, spec.md §4.J).
func (m *Manager) MarkDeleted(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.Table.Get(idx)
	if !ok {
		return
	}
	d.Deleted = true
	m.Table.Release(idx)
	m.Deleted = append(m.Deleted, d)
}

// ReapDeleted runs a single pass of the periodic teardown routine
// (spec.md §3, §5): devices with no in-flight readers and no remaining
// items (ItemNr == 0) are closed and dropped from the queue.
func (m *Manager) ReapDeleted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.Deleted[:0]
	for _, d := range m.Deleted {
		if d.InFlight == 0 && d.ItemNr == 0 {
			if d.Fd != nil {
				d.Fd.Close()
			}
			continue
		}
		kept = append(kept, d)
	}
	m.Deleted = kept
}

// Each visits every live (non-deleted-queue) device.
func (m *Manager) Each(fn func(idx int, d *Device)) {
	m.Table.Each(fn)
}
