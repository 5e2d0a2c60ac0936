package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"dutybot/internal/clock"
	"dutybot/internal/domain"
	"dutybot/internal/store"
)

// lockKey is the single leadership key shared by all instances.
const lockKey = "instance_lock"

// Record is the stored lock value.
// Params: owner identity split into host/pid plus absolute expiry.
// Returns: serialized lock ownership claim.
type Record struct {
	Owner     string    `json:"owner"`
	Host      string    `json:"host"`
	PID       int       `json:"pid"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the claim is past its expiry at the given instant.
// Params: now is the evaluation instant.
// Returns: true when the claim no longer counts as held.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Manager acquires and maintains the single-active-instance lock.
// Params: shared KV backend, clock, TTL, and local process identity.
// Returns: leadership coordination for one process.
type Manager struct {
	kv     store.KV
	clk    clock.Clock
	ttl    time.Duration
	host   string
	pid    int
	logger *slog.Logger
	alive  func(pid int) bool

	// mu serializes Acquire/Renew/Release; the renewal loop and the
	// shutdown path run on different goroutines.
	mu       sync.Mutex
	revision uint64
}

// NewManager creates a lock manager bound to the local process identity.
// Params: KV backend, clock, lock TTL, and logger.
// Returns: initialized manager or hostname lookup error.
func NewManager(kv store.KV, clk clock.Clock, ttl time.Duration, logger *slog.Logger) (*Manager, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	return &Manager{
		kv:     kv,
		clk:    clk,
		ttl:    ttl,
		host:   host,
		pid:    os.Getpid(),
		logger: logger,
		alive:  processAlive,
	}, nil
}

// Acquire claims the instance lock or fails when another live instance holds it.
// Params: ctx bounds backend calls.
// Returns: nil on ownership, domain.ErrLockUnavailable when held elsewhere.
func (m *Manager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.claim()
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}

	rev, err := m.kv.Create(ctx, lockKey, body)
	if err == nil {
		m.revision = rev
		m.logger.Info("instance lock acquired", "owner", record.Owner)
		return nil
	}
	if !errors.Is(err, store.ErrExists) {
		return fmt.Errorf("acquire lock: %w", err)
	}

	current, currentRev, err := m.kv.Get(ctx, lockKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Holder released between our create and read; try once more.
			rev, err = m.kv.Create(ctx, lockKey, body)
			if err != nil {
				return domain.ErrLockUnavailable
			}
			m.revision = rev
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}

	var held Record
	if err := json.Unmarshal(current, &held); err != nil {
		return fmt.Errorf("decode lock: %w", err)
	}

	if !m.reclaimable(held) {
		m.logger.Warn("instance lock held elsewhere", "owner", held.Owner, "expires_at", held.ExpiresAt)
		return domain.ErrLockUnavailable
	}

	rev, err = m.kv.Update(ctx, lockKey, currentRev, body)
	if err != nil {
		return domain.ErrLockUnavailable
	}
	m.revision = rev
	m.logger.Info("stale instance lock reclaimed", "previous_owner", held.Owner, "owner", record.Owner)
	return nil
}

// reclaimable reports whether a held claim may be taken over.
// Params: held is the decoded current lock value.
// Returns: true for expired claims or same-host claims with a dead process.
func (m *Manager) reclaimable(held Record) bool {
	if held.Expired(m.clk.Now()) {
		return true
	}
	if held.Host == m.host && held.PID != m.pid && !m.alive(held.PID) {
		return true
	}
	return false
}

// Renew extends the owned claim by one TTL.
// Params: ctx bounds backend calls.
// Returns: nil on success; error when the claim was lost.
func (m *Manager) Renew(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.claim()
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}

	rev, err := m.kv.Update(ctx, lockKey, m.revision, body)
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	m.revision = rev
	return nil
}

// Release drops the owned claim, best effort.
// Params: ctx bounds backend calls.
// Returns: delete error for logging; ownership is gone either way.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, rev, err := m.kv.Get(ctx, lockKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}

	var held Record
	if err := json.Unmarshal(current, &held); err != nil {
		return fmt.Errorf("decode lock: %w", err)
	}
	if held.Owner != m.owner() || rev != m.revision {
		return nil
	}
	if err := m.kv.Delete(ctx, lockKey); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	m.logger.Info("instance lock released", "owner", held.Owner)
	return nil
}

func (m *Manager) claim() Record {
	return Record{
		Owner:     m.owner(),
		Host:      m.host,
		PID:       m.pid,
		ExpiresAt: m.clk.Now().Add(m.ttl),
	}
}

func (m *Manager) owner() string {
	return fmt.Sprintf("%s:%d", m.host, m.pid)
}

// processAlive probes a local pid with signal 0.
// Params: pid of the candidate process.
// Returns: true when the process exists and is signalable.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
