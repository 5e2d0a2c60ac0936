package store

import (
	"context"
	"sync"
)

// MemoryKV keeps coordination state in process memory for single-instance mode.
// Params: in-memory entry map guarded by a mutex.
// Returns: KV implementation without external dependencies.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value    []byte
	revision uint64
}

// NewMemoryKV creates an in-memory coordination store.
// Params: none.
// Returns: initialized in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

// Get returns value and revision for key.
// Params: key.
// Returns: stored value copy, revision, or ErrNotFound.
func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, entry.revision, nil
}

// Create writes value only when key is absent.
// Params: key and value bytes.
// Returns: new revision or ErrExists.
func (s *MemoryKV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return 0, ErrExists
	}
	s.entries[key] = memoryEntry{value: cloneValue(value), revision: 1}
	return 1, nil
}

// Update replaces value using expected revision CAS.
// Params: key, expected revision, and replacement value.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryKV) Update(_ context.Context, key string, expectedRevision uint64, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.entries[key] = memoryEntry{value: cloneValue(value), revision: rev}
	return rev, nil
}

// Put writes value unconditionally.
// Params: key and value bytes.
// Returns: new revision.
func (s *MemoryKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.entries[key].revision + 1
	s.entries[key] = memoryEntry{value: cloneValue(value), revision: rev}
	return rev, nil
}

// Delete removes key if present.
// Params: key.
// Returns: nil (in-memory delete).
func (s *MemoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryKV) Close() error {
	return nil
}

func cloneValue(value []byte) []byte {
	cloned := make([]byte, len(value))
	copy(cloned, value)
	return cloned
}
