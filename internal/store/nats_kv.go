package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dutybot/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSKV persists coordination state in a JetStream KV bucket.
// Params: NATS connection and KV bucket handle.
// Returns: KV-backed coordination store shared across instances.
type NATSKV struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSKV connects to NATS and opens the configured bucket.
// Params: store settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSKV(settings config.StoreConfig) (*NATSKV, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: settings.Bucket,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSKV{nc: nc, kv: kv}, nil
}

// Get reads one key and its KV revision.
// Params: key.
// Returns: value, revision, or ErrNotFound.
func (s *NATSKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Create writes value only when key is absent.
// Params: key and value bytes.
// Returns: new revision or ErrExists.
func (s *NATSKV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(key, value)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return 0, ErrExists
		}
		return 0, fmt.Errorf("create %q: %w", key, err)
	}
	return rev, nil
}

// Update replaces value using expected revision CAS.
// Params: key, expected revision, and replacement value.
// Returns: new revision or ErrConflict.
func (s *NATSKV) Update(_ context.Context, key string, expectedRevision uint64, value []byte) (uint64, error) {
	rev, err := s.kv.Update(key, value, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update %q: %w", key, err)
	}
	return rev, nil
}

// Put writes value unconditionally.
// Params: key and value bytes.
// Returns: new KV revision.
func (s *NATSKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Put(key, value)
	if err != nil {
		return 0, fmt.Errorf("put %q: %w", key, err)
	}
	return rev, nil
}

// Delete removes key if present.
// Params: key.
// Returns: delete error.
func (s *NATSKV) Delete(_ context.Context, key string) error {
	if err := s.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSKV) Close() error {
	s.nc.Close()
	return nil
}
