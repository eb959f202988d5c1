package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	limits   Limits
	now      func() time.Time
}

// NewMemory creates an in-process repository.
func NewMemory(limits Limits) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		limits:   limits,
		now:      time.Now,
	}
}

// Get implements Repository.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id].Clone(), nil
}

// Save implements Repository.
func (m *MemoryStore) Save(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists && m.limits.MaxSessions > 0 && len(m.sessions) >= m.limits.MaxSessions {
		if m.limits.IdleTTL > 0 {
			m.deleteIdleLocked(m.limits.IdleTTL)
		}
		if len(m.sessions) >= m.limits.MaxSessions {
			return domain.ErrCapacity
		}
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Update implements Repository.
func (m *MemoryStore) Update(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return domain.ErrNotFound
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Delete implements Repository.
func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

// DeleteIdle implements Repository.
func (m *MemoryStore) DeleteIdle(_ context.Context, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteIdleLocked(ttl), nil
}

func (m *MemoryStore) deleteIdleLocked(ttl time.Duration) []string {
	threshold := m.now().Add(-ttl)
	var evicted []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(threshold) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Count implements Repository.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Ping implements Repository.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Repository.
func (m *MemoryStore) Close() error { return nil }
