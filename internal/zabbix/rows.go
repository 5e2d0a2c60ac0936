package zabbix

import (
	"log/slog"
	"strconv"
	"time"

	"dutybot/internal/domain"
)

// The API returns every scalar as a string; these row types mirror the
// wire shape before conversion into domain values.

type problemRow struct {
	EventID      string    `json:"eventid"`
	Name         string    `json:"name"`
	Severity     string    `json:"severity"`
	Clock        string    `json:"clock"`
	Acknowledged string    `json:"acknowledged"`
	Hosts        []hostRow `json:"hosts"`
	Acknowledges []ackRow  `json:"acknowledges"`
	Tags         []tagRow  `json:"tags"`
}

type hostRow struct {
	HostID string `json:"hostid"`
	Host   string `json:"host"`
	Name   string `json:"name"`
}

type ackRow struct {
	Message string `json:"message"`
	Clock   string `json:"clock"`
}

type tagRow struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// decodeProblems converts wire rows into validated domain problems.
// Params: rows from problem.get/event.get and logger for skipped rows.
// Returns: problems in row order; undecodable rows are logged and dropped.
func decodeProblems(rows []problemRow, logger *slog.Logger) []domain.Problem {
	problems := make([]domain.Problem, 0, len(rows))
	for _, row := range rows {
		problem, err := row.toProblem()
		if err != nil {
			logger.Warn("skipping undecodable problem row", "event_id", row.EventID, "error", err)
			continue
		}
		problems = append(problems, problem)
	}
	return problems
}

func (r problemRow) toProblem() (domain.Problem, error) {
	severity, err := strconv.Atoi(r.Severity)
	if err != nil {
		severity = 0
	}

	problem := domain.Problem{
		EventID:      r.EventID,
		Name:         r.Name,
		Severity:     domain.Severity(severity),
		Acknowledged: r.Acknowledged == "1",
		Comments:     decodeComments(r.Acknowledges),
	}

	if unix, err := strconv.ParseInt(r.Clock, 10, 64); err == nil {
		problem.OccurredAt = time.Unix(unix, 0).UTC()
	}
	if len(r.Hosts) > 0 {
		problem.HostID = r.Hosts[0].HostID
	}
	for _, tag := range r.Tags {
		problem.Tags = append(problem.Tags, domain.Tag{Key: tag.Tag, Value: tag.Value})
	}

	if err := problem.Validate(); err != nil {
		return domain.Problem{}, err
	}
	return problem, nil
}

// decodeComments converts acknowledge rows into ordered comments.
// Params: rows from selectAcknowledges.
// Returns: non-empty comments in row order.
func decodeComments(rows []ackRow) []domain.Comment {
	comments := make([]domain.Comment, 0, len(rows))
	for _, row := range rows {
		if row.Message == "" {
			continue
		}
		comment := domain.Comment{Message: row.Message}
		if unix, err := strconv.ParseInt(row.Clock, 10, 64); err == nil {
			comment.At = time.Unix(unix, 0).UTC()
		}
		comments = append(comments, comment)
	}
	if len(comments) == 0 {
		return nil
	}
	return comments
}
