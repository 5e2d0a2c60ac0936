package toggle

import (
	"context"
	"errors"
	"fmt"

	"dutybot/internal/store"
)

// flagKey is the shared realtime-dispatch flag key.
const flagKey = "realtime_enabled"

// Realtime reads and flips the shared realtime-notification flag.
// Params: shared KV backend.
// Returns: flag state visible to all instances.
type Realtime struct {
	kv store.KV
}

// NewRealtime creates the flag accessor.
// Params: KV backend.
// Returns: initialized accessor.
func NewRealtime(kv store.KV) *Realtime {
	return &Realtime{kv: kv}
}

// Seed writes the enabled default when the flag key is absent.
// Params: ctx bounds backend calls.
// Returns: backend error; an existing value is left untouched.
func (r *Realtime) Seed(ctx context.Context) error {
	_, err := r.kv.Create(ctx, flagKey, encode(true))
	if err != nil && !errors.Is(err, store.ErrExists) {
		return fmt.Errorf("seed realtime flag: %w", err)
	}
	return nil
}

// Enabled reads the current flag state.
// Params: ctx bounds backend calls.
// Returns: flag value; an absent key reads as enabled.
func (r *Realtime) Enabled(ctx context.Context) (bool, error) {
	value, _, err := r.kv.Get(ctx, flagKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("read realtime flag: %w", err)
	}
	return decode(value), nil
}

// Toggle flips the flag and returns the new state.
// Params: ctx bounds backend calls.
// Returns: new flag value after the flip.
func (r *Realtime) Toggle(ctx context.Context) (bool, error) {
	for {
		value, rev, err := r.kv.Get(ctx, flagKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Absent reads as enabled, so the flip lands on disabled.
				if _, err := r.kv.Create(ctx, flagKey, encode(false)); err != nil {
					if errors.Is(err, store.ErrExists) {
						continue
					}
					return false, fmt.Errorf("toggle realtime flag: %w", err)
				}
				return false, nil
			}
			return false, fmt.Errorf("read realtime flag: %w", err)
		}

		next := !decode(value)
		if _, err := r.kv.Update(ctx, flagKey, rev, encode(next)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return false, fmt.Errorf("toggle realtime flag: %w", err)
		}
		return next, nil
	}
}

func encode(enabled bool) []byte {
	if enabled {
		return []byte("true")
	}
	return []byte("false")
}

func decode(value []byte) bool {
	return string(value) == "true"
}
