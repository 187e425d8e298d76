package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/testpilot/testpilot/types"
)

const (
	runDirPrefix    = "testrun-"
	summaryFileName = "summary.log"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileLogger stores per-test output under a directory named after the run
// ID, one file per result, plus a run summary on completion.
type FileLogger struct {
	mu      sync.Mutex
	baseDir string
	runID   string
	dir     string
}

// NewFileLogger creates the run directory and returns a logger bound to it
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	dir := filepath.Join(baseDir, runDirPrefix+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return &FileLogger{baseDir: baseDir, runID: runID, dir: dir}, nil
}

// RunID returns the run ID this logger was created for
func (l *FileLogger) RunID() string {
	return l.runID
}

// Directory returns the directory holding this run's log files
func (l *FileLogger) Directory() string {
	return l.dir
}

// LogTestResult writes the captured output of one result to its own file
func (l *FileLogger) LogTestResult(result types.TestResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "artifact:    %s\n", result.ArtifactID)
	fmt.Fprintf(&b, "status:      %s\n", result.Status)
	fmt.Fprintf(&b, "environment: %s\n", result.EnvironmentID)
	fmt.Fprintf(&b, "duration:    %s\n", result.Duration)
	if result.ErrorMessage != "" {
		fmt.Fprintf(&b, "error:       %s\n", result.ErrorMessage)
	}
	b.WriteString("\n")
	b.WriteString(result.Output)
	if result.StackTrace != "" {
		b.WriteString("\n--- stack trace ---\n")
		b.WriteString(result.StackTrace)
	}

	path := filepath.Join(l.dir, sanitizeFilename(result.ArtifactID)+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing test log %s: %w", path, err)
	}
	return nil
}

// Complete writes the aggregate summary file for the run
func (l *FileLogger) Complete(summary types.ExecutionSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run:      %s\n", l.runID)
	fmt.Fprintf(&b, "total:    %d\n", summary.TotalTests)
	fmt.Fprintf(&b, "passed:   %d\n", summary.Passed)
	fmt.Fprintf(&b, "failed:   %d\n", summary.Failed)
	fmt.Fprintf(&b, "errored:  %d\n", summary.Errored)
	fmt.Fprintf(&b, "skipped:  %d\n", summary.Skipped)
	fmt.Fprintf(&b, "pending:  %d\n", summary.Pending)
	fmt.Fprintf(&b, "duration: %s\n", summary.TotalDuration)
	fmt.Fprintf(&b, "success:  %t\n", summary.Success)

	path := filepath.Join(l.dir, summaryFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing summary %s: %w", path, err)
	}
	return nil
}

// sanitizeFilename replaces characters that are unsafe in filenames
func sanitizeFilename(name string) string {
	clean := unsafeFilenameChars.ReplaceAllString(name, "_")
	if clean == "" {
		clean = "unnamed"
	}
	return clean
}
