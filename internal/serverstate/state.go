// Package serverstate tracks the relay process status and its draining
// flag, either in memory or in a shared Redis key.
package serverstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status values reported on /api/status.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
	StatusUnknown  = "unknown"
)

// State is stored as one value so readers never see a status that
// disagrees with the draining flag.
type State struct {
	Status    string    `json:"status"`
	Draining  bool      `json:"draining"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists State.
type Store interface {
	Load() State
	Store(State)
}

var (
	mu     sync.RWMutex
	active Store = NewMemoryStore()
)

// UseStore replaces the active Store. A nil store is ignored.
func UseStore(s Store) {
	if s == nil {
		return
	}
	mu.Lock()
	active = s
	mu.Unlock()
}

func current() Store {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a process-local Store in the not_ready status.
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(State{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: StatusUnknown}
}

func (m *memoryStore) Store(s State) { m.v.Store(s) }

func update(fn func(*State)) {
	s := current()
	st := s.Load()
	fn(&st)
	st.UpdatedAt = time.Now().UTC()
	s.Store(st)
}

// SetState updates the status string.
func SetState(status string) {
	update(func(st *State) { st.Status = status })
}

// GetState returns the current status string.
func GetState() string { return current().Load().Status }

// Snapshot returns the whole current State.
func Snapshot() State { return current().Load() }

// StartDrain marks the process as draining. New WebSocket connections are
// refused from then on.
func StartDrain() {
	update(func(st *State) {
		st.Draining = true
		st.Status = StatusDraining
	})
}

// IsDraining reports whether StartDrain was called.
func IsDraining() bool { return current().Load().Draining }
