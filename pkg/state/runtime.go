// Package state holds the process-wide runtime configuration: where the
// listener binds and which backend currently serves traffic.
package state

import "sync"

// Snapshot is a consistent copy of the runtime configuration.
type Snapshot struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ActiveGroupID   int64  `json:"active_group_id,omitempty"`
	ActiveBackendID int64  `json:"active_backend_id,omitempty"`
}

// HasActive reports whether an active backend is selected.
func (s Snapshot) HasActive() bool {
	return s.ActiveBackendID != 0
}

// Runtime is the shared, mutable runtime configuration. Readers get
// snapshots; the proxy reads it once per request and failover writes it.
type Runtime struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewRuntime creates a runtime bound to host and port with no active backend.
func NewRuntime(host string, port int) *Runtime {
	return &Runtime{snap: Snapshot{Host: host, Port: port}}
}

// Snapshot returns a copy of the current configuration.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// SetActive selects the active group and backend together.
func (r *Runtime) SetActive(groupID, backendID int64) {
	r.mu.Lock()
	r.snap.ActiveGroupID = groupID
	r.snap.ActiveBackendID = backendID
	r.mu.Unlock()
}

// CompareAndSetActive moves the active backend from expect to next only if
// expect is still active. It reports whether the swap happened.
func (r *Runtime) CompareAndSetActive(expect, groupID, next int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.ActiveBackendID != expect {
		return false
	}
	r.snap.ActiveGroupID = groupID
	r.snap.ActiveBackendID = next
	return true
}

// ClearActive deselects the active backend.
func (r *Runtime) ClearActive() {
	r.SetActive(0, 0)
}

// SetPort records the port the listener actually bound.
func (r *Runtime) SetPort(port int) {
	r.mu.Lock()
	r.snap.Port = port
	r.mu.Unlock()
}

// SetHost records the listener host.
func (r *Runtime) SetHost(host string) {
	r.mu.Lock()
	r.snap.Host = host
	r.mu.Unlock()
}
