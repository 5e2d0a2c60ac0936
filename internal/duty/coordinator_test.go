package duty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"dutybot/internal/domain"
)

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
	err   error
}

type ackCall struct {
	eventID string
	message string
}

func (f *fakeAcknowledger) Acknowledge(_ context.Context, eventID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{eventID: eventID, message: message})
	return f.err
}

func newTestCoordinator(backend *fakeAcknowledger) *Coordinator {
	return NewCoordinator(backend, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSetDutyOfficer(t *testing.T) {
	t.Parallel()

	coord := newTestCoordinator(&fakeAcknowledger{})

	if err := coord.SetDutyOfficer("  "); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := coord.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}
	if got := coord.DutyOfficer(); got != "Smith" {
		t.Fatalf("unexpected officer: %q", got)
	}

	// Overwrite is unconditional.
	if err := coord.SetDutyOfficer("Jones"); err != nil {
		t.Fatalf("replace officer: %v", err)
	}
	if got := coord.DutyOfficer(); got != "Jones" {
		t.Fatalf("unexpected officer after replace: %q", got)
	}
}

func TestAcknowledgeRequiresDutyOfficer(t *testing.T) {
	t.Parallel()

	backend := &fakeAcknowledger{}
	coord := newTestCoordinator(backend)

	if err := coord.Acknowledge(context.Background(), "101", ""); !errors.Is(err, domain.ErrDutyNotSet) {
		t.Fatalf("expected ErrDutyNotSet, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("backend called without duty officer")
	}
}

func TestAcknowledgeAuditWording(t *testing.T) {
	t.Parallel()

	backend := &fakeAcknowledger{}
	coord := newTestCoordinator(backend)
	if err := coord.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}

	if err := coord.Acknowledge(context.Background(), "101", ""); err != nil {
		t.Fatalf("plain acknowledge: %v", err)
	}
	if err := coord.Acknowledge(context.Background(), "102", "fixed"); err != nil {
		t.Fatalf("commented acknowledge: %v", err)
	}

	if len(backend.calls) != 2 {
		t.Fatalf("unexpected call count: %d", len(backend.calls))
	}
	if backend.calls[0].message != "Acknowledged by duty officer Smith" {
		t.Fatalf("unexpected plain audit: %q", backend.calls[0].message)
	}
	if backend.calls[1].message != "Duty officer Smith: fixed" {
		t.Fatalf("unexpected comment audit: %q", backend.calls[1].message)
	}
}

func TestCommentFlow(t *testing.T) {
	t.Parallel()

	backend := &fakeAcknowledger{}
	coord := newTestCoordinator(backend)
	if err := coord.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}

	if _, err := coord.CompleteComment(context.Background(), 42, "text"); !errors.Is(err, domain.ErrNoPendingComment) {
		t.Fatalf("expected ErrNoPendingComment, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("backend called without pending comment")
	}

	// Last write wins per operator.
	coord.BeginComment(42, "101")
	coord.BeginComment(42, "102")

	eventID, err := coord.CompleteComment(context.Background(), 42, "restarted the service")
	if err != nil {
		t.Fatalf("complete comment: %v", err)
	}
	if eventID != "102" {
		t.Fatalf("expected last-begun event, got %q", eventID)
	}
	if len(backend.calls) != 1 || backend.calls[0].message != "Duty officer Smith: restarted the service" {
		t.Fatalf("unexpected backend write: %+v", backend.calls)
	}

	// Pending state is consumed.
	if _, err := coord.CompleteComment(context.Background(), 42, "again"); !errors.Is(err, domain.ErrNoPendingComment) {
		t.Fatalf("expected pending state consumed, got %v", err)
	}
}

func TestCompleteCommentConsumesStateOnBackendError(t *testing.T) {
	t.Parallel()

	backend := &fakeAcknowledger{err: errors.New("backend down")}
	coord := newTestCoordinator(backend)
	if err := coord.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}

	coord.BeginComment(42, "101")
	if _, err := coord.CompleteComment(context.Background(), 42, "text"); err == nil {
		t.Fatalf("expected backend error")
	}
	if _, ok := coord.PendingComment(42); ok {
		t.Fatalf("pending state should be consumed after failure")
	}
}
