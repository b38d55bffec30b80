package victron

import (
	"sort"
	"sync"
)

// Registry holds the last known state of every device seen so far
type Registry struct {
	mu             sync.RWMutex
	devices        map[string]*DeviceRecord
	retainLastData bool
}

// NewRegistry creates an empty registry
func NewRegistry(retainLastData bool) *Registry {
	return &Registry{
		devices:        make(map[string]*DeviceRecord),
		retainLastData: retainLastData,
	}
}

// Commit stores a decode result under its normalized address.
// With retention enabled the result is merged into the stored record,
// otherwise it replaces it.
func (r *Registry) Commit(rec DeviceRecord) {
	rec.Address = NormalizeAddress(rec.Address)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[rec.Address]
	if !ok || !r.retainLastData {
		stored := rec.Clone()
		r.devices[rec.Address] = &stored
		return
	}
	merge(existing, rec.Clone())
}

// Devices returns a copy of every stored record keyed by address
func (r *Registry) Devices() map[string]DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DeviceRecord, len(r.devices))
	for addr, rec := range r.devices {
		out[addr] = rec.Clone()
	}
	return out
}

// Device returns a copy of the record stored for addr
func (r *Registry) Device(addr string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[NormalizeAddress(addr)]
	if !ok {
		return DeviceRecord{}, false
	}
	return rec.Clone(), true
}

// HasDevices reports whether any device has been seen
func (r *Registry) HasDevices() bool {
	return r.DeviceCount() > 0
}

// DeviceCount returns the number of stored devices
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Addresses returns the stored addresses in sorted order
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, 0, len(r.devices))
	for addr := range r.devices {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// SetRetainLastData switches between merge and replace on commit
func (r *Registry) SetRetainLastData(retain bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retainLastData = retain
}

// RetainLastData reports the current commit mode
func (r *Registry) RetainLastData() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retainLastData
}
