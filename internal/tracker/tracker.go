package tracker

import (
	"sync"
	"time"

	"dutybot/internal/domain"
)

// evictAfterMisses is how many consecutive polls without the event
// must pass before its tracking entry is dropped.
const evictAfterMisses = 2

// Tracker remembers which problems were already announced and decides
// when a reminder is due again.
// Params: reminder interval and per-event seen state.
// Returns: per-poll dispatch verdicts.
type Tracker struct {
	mu               sync.Mutex
	reminderInterval time.Duration
	entries          map[string]*entry
}

type entry struct {
	firstSeen    time.Time
	lastReminder time.Time
	misses       int
}

// New creates a tracker.
// Params: reminderInterval between repeat notifications for one event.
// Returns: initialized tracker.
func New(reminderInterval time.Duration) *Tracker {
	return &Tracker{
		reminderInterval: reminderInterval,
		entries:          make(map[string]*entry),
	}
}

// Classify folds one poll snapshot into the seen state.
// Params: problems in backend snapshot order and the poll instant.
// Returns: one verdict per snapshot problem, order preserved; entries
// absent from the snapshot for two polls in a row are evicted.
func (t *Tracker) Classify(problems []domain.Problem, now time.Time) []domain.Classification {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(problems))
	verdicts := make([]domain.Classification, 0, len(problems))

	for _, problem := range problems {
		seen[problem.EventID] = struct{}{}

		tracked, ok := t.entries[problem.EventID]
		if !ok {
			t.entries[problem.EventID] = &entry{firstSeen: now, lastReminder: now}
			verdicts = append(verdicts, domain.Classification{Problem: problem, Kind: domain.ClassificationNew})
			continue
		}

		tracked.misses = 0
		// Strictly past the interval; the exact boundary is still quiet.
		if now.Sub(tracked.lastReminder) > t.reminderInterval {
			tracked.lastReminder = now
			verdicts = append(verdicts, domain.Classification{Problem: problem, Kind: domain.ClassificationDue})
			continue
		}
		verdicts = append(verdicts, domain.Classification{Problem: problem, Kind: domain.ClassificationQuiet})
	}

	for eventID, tracked := range t.entries {
		if _, ok := seen[eventID]; ok {
			continue
		}
		tracked.misses++
		if tracked.misses >= evictAfterMisses {
			delete(t.entries, eventID)
		}
	}

	return verdicts
}

// Forget drops one event from the seen state immediately.
// Params: eventID of the acknowledged or resolved problem.
// Returns: nothing; a later reappearance counts as new.
func (t *Tracker) Forget(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, eventID)
}

// FirstSeen reports when a tracked event was first observed.
// Params: eventID to look up.
// Returns: first-seen instant and whether the event is tracked.
func (t *Tracker) FirstSeen(eventID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracked, ok := t.entries[eventID]
	if !ok {
		return time.Time{}, false
	}
	return tracked.firstSeen, true
}
