package concurrency

import "sync"

// SessionLockManager serializes per-session processing so a session's
// extraction always sees messages in append order. Across sessions, full
// parallelism is allowed.
type SessionLockManager struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewSessionLockManager() *SessionLockManager {
	return &SessionLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *SessionLockManager) Lock(sessionID string) {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *SessionLockManager) Unlock(sessionID string) {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if ok {
		lock.Unlock()
	}
	m.mu.Unlock()
}
