package domain

import (
	"errors"
	"strings"
	"time"
)

// Severity is Zabbix problem severity ordinal.
// Params: constants 0 (uncategorized) to 5 (disaster).
// Returns: ordered severity level for threshold filtering.
type Severity int

const (
	// SeverityUncategorized marks problems without classification.
	SeverityUncategorized Severity = 0
	// SeverityInformation marks informational problems.
	SeverityInformation Severity = 1
	// SeverityWarning marks warning-level problems.
	SeverityWarning Severity = 2
	// SeverityAverage marks average-level problems.
	SeverityAverage Severity = 3
	// SeverityHigh marks high-level problems.
	SeverityHigh Severity = 4
	// SeverityDisaster marks disaster-level problems.
	SeverityDisaster Severity = 5
)

var severityNames = map[Severity]string{
	SeverityUncategorized: "🔵 Uncategorized",
	SeverityInformation:   "⚪ Information",
	SeverityWarning:       "🟡 Warning",
	SeverityAverage:       "🟠 Average",
	SeverityHigh:          "🔴 High",
	SeverityDisaster:      "⚫ Disaster",
}

// Name returns display label with severity marker.
// Params: none.
// Returns: label or unknown marker for out-of-range values.
func (s Severity) Name() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "❓ Unknown"
}

// Tag is one key/value pair attached to a problem.
// Params: tag key and optional value.
// Returns: problem classification metadata.
type Tag struct {
	Key   string `json:"tag"`
	Value string `json:"value"`
}

// Comment is one acknowledgment entry recorded against a problem.
// Params: free text and entry timestamp.
// Returns: ordered audit-trail item.
type Comment struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Problem is one monitoring backend fault record.
// Params: backend event identity, host binding, severity, and audit trail.
// Returns: immutable snapshot; acknowledged/comments mutate only via the
// backend acknowledge operation, never locally.
type Problem struct {
	EventID      string    `json:"event_id"`
	Name         string    `json:"name"`
	HostID       string    `json:"host_id"`
	Severity     Severity  `json:"severity"`
	OccurredAt   time.Time `json:"occurred_at"`
	Acknowledged bool      `json:"acknowledged"`
	Comments     []Comment `json:"comments,omitempty"`
	Tags         []Tag     `json:"tags,omitempty"`
}

// Validate validates one problem snapshot against the contract.
// Params: fields decoded from the backend transport.
// Returns: validation error when identity fields are missing.
func (p Problem) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return errors.New("event_id is required")
	}
	if p.Severity < SeverityUncategorized || p.Severity > SeverityDisaster {
		return errors.New("severity must be in 0..5")
	}
	return nil
}

// ClassificationKind is the tracker verdict for one polled problem.
type ClassificationKind string

const (
	// ClassificationNew marks a problem seen for the first time.
	ClassificationNew ClassificationKind = "new"
	// ClassificationDue marks a tracked problem whose reminder interval elapsed.
	ClassificationDue ClassificationKind = "due"
	// ClassificationQuiet marks a tracked problem inside its reminder interval.
	ClassificationQuiet ClassificationKind = "quiet"
)

// Classification binds one polled problem to its tracker verdict.
// Params: problem snapshot and verdict kind.
// Returns: dispatch decision input for the notifier.
type Classification struct {
	Problem Problem
	Kind    ClassificationKind
}

var (
	// ErrUnauthorized indicates the chat is outside the allow-list.
	ErrUnauthorized = errors.New("chat is not authorized")
	// ErrDutyNotSet indicates no duty officer has been set yet.
	ErrDutyNotSet = errors.New("duty officer is not set")
	// ErrNoPendingComment indicates the operator has no comment awaited.
	ErrNoPendingComment = errors.New("no pending comment")
	// ErrLockUnavailable indicates another live instance holds the lock.
	ErrLockUnavailable = errors.New("instance lock unavailable")
)
