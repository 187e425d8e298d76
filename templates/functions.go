// Package templates holds the embedded report templates and their
// rendering helpers.
package templates

import (
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/testpilot/testpilot/types"
)

//go:embed report.html
var ReportHTML string

// GetTemplateFunc returns the centralized template functions used across
// the report formats
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"formatTime": func(t time.Time) string {
			return t.Format("2006-01-02 15:04:05 MST")
		},
		"formatPercent": func(rate float64) string {
			return fmt.Sprintf("%.1f%%", rate*100)
		},
		"statusClass": func(status types.TestStatus) string {
			return getStatusString(status)
		},
	}
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPassed:
		return "passed"
	case types.TestStatusFailed:
		return "failed"
	case types.TestStatusError:
		return "error"
	case types.TestStatusSkipped:
		return "skipped"
	case types.TestStatusPending:
		return "pending"
	default:
		return "unknown"
	}
}
