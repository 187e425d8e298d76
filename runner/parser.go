package runner

import (
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/testpilot/testpilot/types"
)

// Ordered marker lists for deriving a status from runner output. Failure
// markers are checked first so mixed output never reads as a pass.
var (
	failureMarkers = []string{"FAILED", "failed:", "AssertionError", "error:", "Error:"}
	skipMarkers    = []string{"SKIPPED", "skipped:"}
	passMarkers    = []string{"PASSED", "passed", "Success:"}
)

// ParseStatus derives a test status from the combined runner output via
// ordered substring checks. Output with no recognizable marker is PENDING.
func ParseStatus(output string) types.TestStatus {
	clean := stripansi.Strip(output)

	if containsAny(clean, failureMarkers) {
		return types.TestStatusFailed
	}
	if containsAny(clean, skipMarkers) {
		return types.TestStatusSkipped
	}
	if containsAny(clean, passMarkers) {
		return types.TestStatusPassed
	}
	return types.TestStatusPending
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
