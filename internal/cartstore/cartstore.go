// Package cartstore persists per-session cart snapshots. A snapshot is written
// after every cart mutation and read once when a session's cart is first
// touched; a corrupt or missing snapshot always degrades to an empty cart.
package cartstore

import (
	"context"
	"sync"

	"cloudquote/backend/internal/domain"
)

type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, lines []domain.CartLine) error
	// Load returns nil lines (and no error) when no usable snapshot exists.
	Load(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	Delete(ctx context.Context, sessionID string) error
}

// NoopSnapshotStore discards snapshots; carts live only in process memory.
type NoopSnapshotStore struct{}

func (NoopSnapshotStore) Save(_ context.Context, _ string, _ []domain.CartLine) error {
	return nil
}

func (NoopSnapshotStore) Load(_ context.Context, _ string) ([]domain.CartLine, error) {
	return nil, nil
}

func (NoopSnapshotStore) Delete(_ context.Context, _ string) error {
	return nil
}

// MemorySnapshotStore keeps snapshots in a process-local map. Used in tests
// and as the fallback when no redis address is configured.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]domain.CartLine
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]domain.CartLine)}
}

func (m *MemorySnapshotStore) Save(_ context.Context, sessionID string, lines []domain.CartLine) error {
	copied := make([]domain.CartLine, len(lines))
	copy(copied, lines)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[sessionID] = copied
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, sessionID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines, ok := m.snapshots[sessionID]
	if !ok {
		return nil, nil
	}
	copied := make([]domain.CartLine, len(lines))
	copy(copied, lines)
	return copied, nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}
