// Package storage provides the durable key/value boundary the engine
// persists its documents through: sync history, permissions, sessions, and
// undelivered queue items, all JSON-serialized.
package storage

import (
	"context"
	"sync"
)

// Store is the persistence boundary. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key; the bool is false when absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes the value for key, replacing any prior value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close() error
}

// Well-known document keys.
const (
	KeyPermissions   = "tether:permissions"
	KeySessions      = "tether:sessions"
	KeyQueue         = "tether:queue"
	KeyHistoryOwners = "tether:history-owners"
	historyKeyPrefix = "tether:history:"
)

// HistoryKey returns the per-owner history document key.
func HistoryKey(ownerID string) string {
	return historyKeyPrefix + ownerID
}

// Memory is an in-process Store for tests and ephemeral deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
