package cache

import (
	"context"
	"sync"
	"time"
)

// Backend persists entries. Implementations do not interpret expiry; the
// Store decides logical expiry against its own clock.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteIf removes key only while the stored entry is still the one
	// created at createdAt, so a concurrent rewrite survives expiry.
	DeleteIf(ctx context.Context, key string, createdAt time.Time) (bool, error)
	Clear(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// Sweeper is implemented by backends that retain expired entries until
// reclaimed explicitly.
type Sweeper interface {
	Sweep(now time.Time) int
}

// MemoryBackend keeps entries in a process-local map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryBackend) Save(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries[entry.Key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *MemoryBackend) DeleteIf(_ context.Context, key string, createdAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.CreatedAt.Equal(createdAt) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryBackend) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, nil
}

func (m *MemoryBackend) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Sweep removes every entry expired at now and returns how many were removed.
func (m *MemoryBackend) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}
