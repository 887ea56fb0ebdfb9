package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a Store held in process memory. It provides no cross-
// instance exclusion and is meant for tests and single-instance
// deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

// SetIfAbsent implements Store.
func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.entries[key]; ok && entry.expiresAt.After(now) {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// CompareAndDelete implements Store.
func (m *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expiresAt.Before(m.now()) || entry.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}
