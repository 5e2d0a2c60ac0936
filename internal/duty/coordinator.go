package duty

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"dutybot/internal/domain"
)

// Acknowledger writes one acknowledgment with an audit message to the
// monitoring backend.
type Acknowledger interface {
	Acknowledge(ctx context.Context, eventID, message string) error
}

// Coordinator owns the duty-officer name and per-operator pending-comment
// state.
// Params: backend acknowledger and one mutex over both pieces of state.
// Returns: acknowledgment workflow shared by poller notifications and chat.
type Coordinator struct {
	backend Acknowledger
	logger  *slog.Logger

	mu      sync.Mutex
	officer string
	pending map[int64]string
}

// NewCoordinator creates the coordinator with no duty officer set.
// Params: backend acknowledger and logger.
// Returns: initialized coordinator.
func NewCoordinator(backend Acknowledger, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		backend: backend,
		logger:  logger,
		pending: make(map[int64]string),
	}
}

// SetDutyOfficer overwrites the current duty officer unconditionally.
// Params: name free text.
// Returns: error when the name is blank.
func (c *Coordinator) SetDutyOfficer(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("duty officer name must not be empty")
	}
	c.mu.Lock()
	previous := c.officer
	c.officer = name
	c.mu.Unlock()
	c.logger.Info("duty officer changed", "officer", name, "previous", previous)
	return nil
}

// DutyOfficer returns the current duty officer name.
// Params: none.
// Returns: name, empty when unset.
func (c *Coordinator) DutyOfficer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.officer
}

// Acknowledge acknowledges one event on behalf of the duty officer.
// A plain acknowledgment and a commented one carry distinct audit wording.
// Params: eventID and optional free-text comment.
// Returns: domain.ErrDutyNotSet before any backend call when unset.
func (c *Coordinator) Acknowledge(ctx context.Context, eventID, comment string) error {
	c.mu.Lock()
	officer := c.officer
	c.mu.Unlock()
	if officer == "" {
		return domain.ErrDutyNotSet
	}

	message := auditMessage(officer, comment)
	if err := c.backend.Acknowledge(ctx, eventID, message); err != nil {
		return fmt.Errorf("acknowledge %s: %w", eventID, err)
	}
	c.logger.Info("event acknowledged", "event_id", eventID, "officer", officer, "commented", comment != "")
	return nil
}

// auditMessage builds the backend audit-trail text.
// Params: officer name and optional comment.
// Returns: audit wording for the acknowledge write.
func auditMessage(officer, comment string) string {
	if comment == "" {
		return fmt.Sprintf("Acknowledged by duty officer %s", officer)
	}
	return fmt.Sprintf("Duty officer %s: %s", officer, comment)
}

// BeginComment records that an operator's next free-text message belongs
// to this event. Last write wins per operator.
// Params: operatorID chat id and target eventID.
// Returns: nothing.
func (c *Coordinator) BeginComment(operatorID int64, eventID string) {
	c.mu.Lock()
	c.pending[operatorID] = eventID
	c.mu.Unlock()
}

// PendingComment reports the event an operator's next message is bound to.
// Params: operatorID chat id.
// Returns: event id and whether a comment is awaited.
func (c *Coordinator) PendingComment(operatorID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eventID, ok := c.pending[operatorID]
	return eventID, ok
}

// CompleteComment pops the operator's pending event and acknowledges it
// with the supplied text.
// Params: operatorID chat id and comment text.
// Returns: the acknowledged event id; domain.ErrNoPendingComment without a
// backend call when nothing is pending. Pending state is consumed even
// when the backend write fails.
func (c *Coordinator) CompleteComment(ctx context.Context, operatorID int64, text string) (string, error) {
	c.mu.Lock()
	eventID, ok := c.pending[operatorID]
	if ok {
		delete(c.pending, operatorID)
	}
	c.mu.Unlock()
	if !ok {
		return "", domain.ErrNoPendingComment
	}

	if err := c.Acknowledge(ctx, eventID, text); err != nil {
		return eventID, err
	}
	return eventID, nil
}
