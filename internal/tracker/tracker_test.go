package tracker

import (
	"testing"
	"time"

	"dutybot/internal/domain"
)

func problem(eventID string) domain.Problem {
	return domain.Problem{EventID: eventID, Severity: domain.SeverityWarning}
}

func kinds(verdicts []domain.Classification) []domain.ClassificationKind {
	out := make([]domain.ClassificationKind, 0, len(verdicts))
	for _, verdict := range verdicts {
		out = append(out, verdict.Kind)
	}
	return out
}

func TestClassifyNewThenQuietThenDue(t *testing.T) {
	t.Parallel()

	tr := New(5 * time.Minute)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	verdicts := tr.Classify([]domain.Problem{problem("1")}, now)
	if got := kinds(verdicts); len(got) != 1 || got[0] != domain.ClassificationNew {
		t.Fatalf("unexpected first verdict: %v", got)
	}

	verdicts = tr.Classify([]domain.Problem{problem("1")}, now.Add(time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationQuiet {
		t.Fatalf("unexpected verdict inside interval: %v", got)
	}

	// Exactly at the interval the reminder is not yet due.
	verdicts = tr.Classify([]domain.Problem{problem("1")}, now.Add(5*time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationQuiet {
		t.Fatalf("unexpected verdict at interval boundary: %v", got)
	}

	verdicts = tr.Classify([]domain.Problem{problem("1")}, now.Add(5*time.Minute+time.Second))
	if got := kinds(verdicts); got[0] != domain.ClassificationDue {
		t.Fatalf("unexpected verdict past interval: %v", got)
	}

	// Reminder timer restarts after a due verdict.
	verdicts = tr.Classify([]domain.Problem{problem("1")}, now.Add(6*time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationQuiet {
		t.Fatalf("unexpected verdict after reminder: %v", got)
	}
}

func TestClassifyPreservesSnapshotOrder(t *testing.T) {
	t.Parallel()

	tr := New(5 * time.Minute)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	tr.Classify([]domain.Problem{problem("a")}, now)
	verdicts := tr.Classify([]domain.Problem{problem("b"), problem("a"), problem("c")}, now.Add(time.Minute))

	if len(verdicts) != 3 {
		t.Fatalf("unexpected verdict count: %d", len(verdicts))
	}
	if verdicts[0].Problem.EventID != "b" || verdicts[1].Problem.EventID != "a" || verdicts[2].Problem.EventID != "c" {
		t.Fatalf("snapshot order not preserved: %+v", verdicts)
	}
	if verdicts[0].Kind != domain.ClassificationNew || verdicts[1].Kind != domain.ClassificationQuiet || verdicts[2].Kind != domain.ClassificationNew {
		t.Fatalf("unexpected kinds: %v", kinds(verdicts))
	}
}

func TestClassifyEvictsAfterTwoMisses(t *testing.T) {
	t.Parallel()

	tr := New(5 * time.Minute)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	tr.Classify([]domain.Problem{problem("1")}, now)
	tr.Classify(nil, now.Add(time.Minute))

	// One miss is not enough; the entry survives a flapping poll.
	verdicts := tr.Classify([]domain.Problem{problem("1")}, now.Add(2*time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationQuiet {
		t.Fatalf("entry lost after single miss: %v", got)
	}

	tr.Classify(nil, now.Add(3*time.Minute))
	tr.Classify(nil, now.Add(4*time.Minute))

	verdicts = tr.Classify([]domain.Problem{problem("1")}, now.Add(5*time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationNew {
		t.Fatalf("expected eviction after two misses: %v", got)
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	tr := New(5 * time.Minute)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	tr.Classify([]domain.Problem{problem("1")}, now)
	if _, ok := tr.FirstSeen("1"); !ok {
		t.Fatalf("expected tracked entry")
	}

	tr.Forget("1")
	if _, ok := tr.FirstSeen("1"); ok {
		t.Fatalf("expected entry dropped")
	}

	verdicts := tr.Classify([]domain.Problem{problem("1")}, now.Add(time.Minute))
	if got := kinds(verdicts); got[0] != domain.ClassificationNew {
		t.Fatalf("expected reappearance as new: %v", got)
	}
}
