package concurrency

import "sync"

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SimpleSessionLockManager serializes turn processing per session: two /task
// requests for the same session run one after the other, while different
// sessions proceed in parallel. Entries are reference counted and removed
// once the last holder releases, so the table stays bounded by the number of
// sessions currently in flight.
type SimpleSessionLockManager struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func NewSimpleSessionLockManager() *SimpleSessionLockManager {
	return &SimpleSessionLockManager{
		locks: make(map[string]*sessionLock),
	}
}

func (m *SimpleSessionLockManager) Lock(sessionID string) {
	m.mu.Lock()
	entry, ok := m.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
}

func (m *SimpleSessionLockManager) Unlock(sessionID string) {
	m.mu.Lock()
	entry, ok := m.locks[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, sessionID)
	}
	m.mu.Unlock()

	entry.mu.Unlock()
}
