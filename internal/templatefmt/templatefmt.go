package templatefmt

import (
	"fmt"
	"text/template"
	"time"
)

const eventTimeLayout = "15:04:05 2006.01.02"

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtTime":     FormatTime,
		"fmtDuration": FormatDuration,
	}
}

// ParseNotificationTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// FormatTime renders event timestamps in operator-facing form.
// Params: template value expected as time.Time or *time.Time.
// Returns: formatted timestamp string.
func FormatTime(value any) string {
	switch typed := value.(type) {
	case time.Time:
		return typed.Format(eventTimeLayout)
	case *time.Time:
		if typed == nil {
			return ""
		}
		return typed.Format(eventTimeLayout)
	default:
		return ""
	}
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}
