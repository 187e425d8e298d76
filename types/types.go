package types

import (
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPassed  TestStatus = "passed"
	TestStatusFailed  TestStatus = "failed"
	TestStatusError   TestStatus = "error"
	TestStatusSkipped TestStatus = "skipped"
	TestStatusPending TestStatus = "pending"
)

// Valid reports whether the status is one of the defined enum values
func (s TestStatus) Valid() bool {
	switch s {
	case TestStatusPassed, TestStatusFailed, TestStatusError, TestStatusSkipped, TestStatusPending:
		return true
	}
	return false
}

// TestResult captures the outcome of a single execution attempt.
// A result is created exactly once per attempt and is immutable thereafter.
type TestResult struct {
	ID            string        `json:"id"`
	ArtifactID    string        `json:"artifactId"`
	Name          string        `json:"name"`
	Status        TestStatus    `json:"status"`
	Duration      time.Duration `json:"durationMs"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Output        string        `json:"output,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	StackTrace    string        `json:"stackTrace,omitempty"`
	EnvironmentID string        `json:"environmentId"`
	FeatureName   string        `json:"featureName,omitempty"`
}

// ExecutionOptions controls a single scheduling pass
type ExecutionOptions struct {
	EnvironmentID         string
	Tags                  []string
	Parallel              bool
	FailFast              bool
	OutputPath            string
	ReportPath            string
	WithCoverage          bool
	StartDependentService bool
}

// ExecutionSummary is derived from a set of results and never persisted
type ExecutionSummary struct {
	TotalTests    int           `json:"totalTests"`
	Passed        int           `json:"passed"`
	Failed        int           `json:"failed"`
	Errored       int           `json:"errored"`
	Skipped       int           `json:"skipped"`
	Pending       int           `json:"pending"`
	TotalDuration time.Duration `json:"totalDurationMs"`
	SuccessRate   float64       `json:"successRate"`
	Success       bool          `json:"success"`
}

// Summarize derives an ExecutionSummary from a set of results.
// Success means no failures and no errors; an empty set is successful.
func Summarize(results []TestResult) ExecutionSummary {
	summary := ExecutionSummary{TotalTests: len(results)}
	for _, r := range results {
		switch r.Status {
		case TestStatusPassed:
			summary.Passed++
		case TestStatusFailed:
			summary.Failed++
		case TestStatusError:
			summary.Errored++
		case TestStatusSkipped:
			summary.Skipped++
		case TestStatusPending:
			summary.Pending++
		}
		summary.TotalDuration += r.Duration
	}
	if summary.TotalTests > 0 {
		summary.SuccessRate = float64(summary.Passed) / float64(summary.TotalTests)
	}
	summary.Success = summary.Failed == 0 && summary.Errored == 0
	return summary
}
