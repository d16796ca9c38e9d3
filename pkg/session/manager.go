package session

import (
	"sync"
	"time"

	"github.com/castleinc/cveagent/pkg/errmodel"
)

// Factory builds a session. The manager passes a fresh id.
type Factory func(id string) *Session

type entry struct {
	s        *Session
	lastUsed time.Time
}

// Manager keeps the live sessions of one process, keyed by id. Sessions idle
// for longer than the idle timeout are closed and dropped on the next
// Create, GetOrCreate or Sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  Factory
	idle     time.Duration
	now      func() time.Time
}

type ManagerOption func(*Manager)

// WithIdleTimeout evicts sessions unused for d. Zero keeps them until Delete.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idle = d }
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(f Factory, opts ...ManagerOption) *Manager {
	m := &Manager{sessions: map[string]*entry{}, factory: f, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create starts a session. An empty id gets a generated one.
func (m *Manager) Create(id string) *Session {
	s := m.factory(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.sessions[s.ID()] = &entry{s: s, lastUsed: m.now()}
	return s
}

// Transient builds a session the manager does not keep. The caller closes it.
func (m *Manager) Transient() *Session {
	return m.factory("")
}

// Get returns the session or a not_found error.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || m.expired(e) {
		return nil, notFound(id)
	}
	e.lastUsed = m.now()
	return e.s, nil
}

// GetOrCreate returns the session for id, creating it when absent. Lookup
// and insert happen under one lock, so concurrent first calls share a session.
func (m *Manager) GetOrCreate(id string) *Session {
	if id == "" {
		return m.Create("")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = m.now()
		return e.s
	}
	s := m.factory(id)
	m.sessions[s.ID()] = &entry{s: s, lastUsed: m.now()}
	return s
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	return e.s.Close()
}

// Sweep drops idle sessions now and reports how many went.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expired(e *entry) bool {
	return m.idle > 0 && m.now().Sub(e.lastUsed) > m.idle
}

func (m *Manager) sweepLocked() int {
	if m.idle <= 0 {
		return 0
	}
	n := 0
	for id, e := range m.sessions {
		if m.expired(e) {
			delete(m.sessions, id)
			_ = e.s.Close()
			n++
		}
	}
	return n
}

func notFound(id string) error {
	return errmodel.Validation(errmodel.CodeNotFound, "session not found", map[string]any{"session": id})
}
