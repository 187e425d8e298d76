// Package verify implements the best-effort post-batch check that the
// external runner actually produced its report artifacts.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpilot/testpilot/types"
)

// VerificationError indicates that no report location contained anything
// that looks like a report. It propagates to the caller as the batch's
// terminal error, though already-produced results remain queryable.
type VerificationError struct {
	Dirs []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("no report artifacts found in any of: %s", strings.Join(e.Dirs, ", "))
}

// Extensions a report file may carry
var reportExtensions = map[string]bool{
	".html": true,
	".xml":  true,
	".json": true,
	".svg":  true,
	".png":  true,
	".ico":  true,
}

// Marker substrings recognized in report filenames
var reportMarkers = []string{"report", "summary", "overview", "results"}

// Historical per-test report filename conventions, probed best-effort
var perTestPatterns = []string{
	"%s.html",
	"TEST-%s.xml",
	"%s.json",
}

// Verifier probes an ordered list of candidate report directories
type Verifier struct {
	candidateDirs []string // probed in order; first hit wins
	defaultDir    string   // created when nothing is found
	settleDelay   time.Duration
	log           log.Logger
}

// Config holds configuration for creating a new Verifier
type Config struct {
	CandidateDirs []string
	DefaultDir    string
	SettleDelay   time.Duration
	Log           log.Logger
}

const defaultSettleDelay = 1 * time.Second

// NewVerifier creates a verifier
func NewVerifier(cfg Config) *Verifier {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.DefaultDir == "" && len(cfg.CandidateDirs) > 0 {
		cfg.DefaultDir = cfg.CandidateDirs[0]
	}
	return &Verifier{
		candidateDirs: cfg.CandidateDirs,
		defaultDir:    cfg.DefaultDir,
		settleDelay:   cfg.SettleDelay,
		log:           cfg.Log,
	}
}

// VerifyCompletion waits a fixed settle delay for the runner to flush its
// reports, then probes the candidate directories. Finding no report-like
// file anywhere is the batch's terminal error; a missing per-test file is
// logged only.
func (v *Verifier) VerifyCompletion(ctx context.Context, results []types.TestResult) error {
	select {
	case <-time.After(v.settleDelay):
	case <-ctx.Done():
	}

	dir, found := firstDirWithReport(v.candidateDirs)
	if !found {
		v.log.Error("No report artifacts found", "candidates", strings.Join(v.candidateDirs, ", "))
		if v.defaultDir != "" {
			if err := os.MkdirAll(v.defaultDir, 0o755); err != nil {
				v.log.Warn("Failed to create default report directory", "dir", v.defaultDir, "error", err)
			}
		}
		return &VerificationError{Dirs: v.candidateDirs}
	}
	v.log.Debug("Found report artifacts", "dir", dir)

	for _, result := range results {
		v.probePerTestReports(dir, result)
	}
	return nil
}

// probePerTestReports checks the historical per-test filename conventions.
// Absence is never escalated.
func (v *Verifier) probePerTestReports(dir string, result types.TestResult) {
	name := result.FeatureName
	if name == "" {
		name = result.ArtifactID
	}
	for _, pattern := range perTestPatterns {
		path := filepath.Join(dir, fmt.Sprintf(pattern, name))
		if _, err := os.Stat(path); err == nil {
			v.log.Debug("Found per-test report", "artifact", result.ArtifactID, "path", path)
			return
		}
	}
	v.log.Debug("No per-test report found", "artifact", result.ArtifactID, "dir", dir)
}

// firstDirWithReport probes directories in order and returns the first one
// containing a report-like file.
func firstDirWithReport(dirs []string) (string, bool) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if looksLikeReport(entry.Name()) {
				return dir, true
			}
		}
	}
	return "", false
}

// looksLikeReport is the broad predicate for report files: a known
// extension, or a recognized marker substring in the name.
func looksLikeReport(name string) bool {
	if reportExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	lower := strings.ToLower(name)
	for _, marker := range reportMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
