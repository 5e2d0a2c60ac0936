package store

import (
	"context"
	"testing"
)

func TestMemoryKVCreateAndConflict(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()

	rev, err := kv.Create(context.Background(), "lock", []byte("a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rev == 0 {
		t.Fatalf("expected revision >0")
	}

	if _, err := kv.Create(context.Background(), "lock", []byte("b")); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	value, loadedRev, err := kv.Get(context.Background(), "lock")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "a" || loadedRev != rev {
		t.Fatalf("unexpected entry: %q rev=%d", value, loadedRev)
	}

	rev2, err := kv.Update(context.Background(), "lock", rev, []byte("c"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rev2 == rev {
		t.Fatalf("expected revision to change")
	}

	if _, err := kv.Update(context.Background(), "lock", rev, []byte("d")); err != ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := kv.Update(context.Background(), "missing", 1, []byte("d")); err != ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryKVPutAndDelete(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()

	rev, err := kv.Put(context.Background(), "flag", []byte("true"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	rev2, err := kv.Put(context.Background(), "flag", []byte("false"))
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if rev2 <= rev {
		t.Fatalf("expected revision to grow: %d -> %d", rev, rev2)
	}

	if err := kv.Delete(context.Background(), "flag"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := kv.Get(context.Background(), "flag"); err != ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := kv.Delete(context.Background(), "flag"); err != nil {
		t.Fatalf("delete absent key: %v", err)
	}
}

func TestMemoryKVGetReturnsCopy(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	if _, err := kv.Put(context.Background(), "duty", []byte("alice")); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, _, err := kv.Get(context.Background(), "duty")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	value[0] = 'x'

	again, _, err := kv.Get(context.Background(), "duty")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if string(again) != "alice" {
		t.Fatalf("stored value mutated: %q", again)
	}
}
