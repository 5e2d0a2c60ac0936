package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates absent key.
	ErrNotFound = errors.New("not found")
	// ErrExists indicates the key already exists for a create-only write.
	ErrExists = errors.New("already exists")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// KV provides shared coordination-state persistence operations.
// Params: create-only, CAS, and unconditional writes keyed by string.
// Returns: backend persistence behavior for lock, flag, and duty keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, expectedRevision uint64, value []byte) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
