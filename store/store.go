// Package store provides snapshot persistence backends for session state.
// Snapshots are opaque byte payloads keyed by session ID; validation of their
// contents belongs to the workflow package, not to the stores.
package store

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
)

// SnapshotStore persists session snapshots. Save overwrites any prior
// snapshot for the same session; Load of an unknown session fails with
// *core.NotFoundError.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, data []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore is an in-process SnapshotStore for tests and single-process
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string][]byte{}}
}

// Save implements SnapshotStore.
func (s *MemoryStore) Save(_ context.Context, sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.snapshots[sessionID] = cp
	return nil
}

// Load implements SnapshotStore.
func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[sessionID]
	if !ok {
		return nil, &core.NotFoundError{Kind: "snapshot", Name: sessionID}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete implements SnapshotStore. Deleting an unknown session is a no-op.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

// Close implements SnapshotStore.
func (s *MemoryStore) Close() error { return nil }
