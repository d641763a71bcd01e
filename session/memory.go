package session

import (
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store. State is lost when the
// process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	current *Session
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Current() (Session, bool) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == nil {
		return Session{}, false
	}
	if cur.Expired(m.now()) {
		m.mu.Lock()
		if m.current == cur {
			m.current = nil
		}
		m.mu.Unlock()
		return Session{}, false
	}
	return *cur, true
}
