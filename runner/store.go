package runner

import (
	"sync"

	"github.com/testpilot/testpilot/types"
)

// ResultStore is the keyed collection of produced results. Inserts are
// append-only keyed by a unique id per attempt, so a single lock suffices
// even when executions run on separate goroutines.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]types.TestResult
}

// NewResultStore creates an empty result store
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]types.TestResult)}
}

// Append records a result. Results are immutable once stored.
func (s *ResultStore) Append(result types.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.ID] = result
}

// Get returns the result with the given id
func (s *ResultStore) Get(id string) (types.TestResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

// GetAllResults returns every stored result
func (s *ResultStore) GetAllResults() []types.TestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.TestResult, 0, len(s.results))
	for _, r := range s.results {
		results = append(results, r)
	}
	return results
}

// GetLatestForArtifact returns the result with the maximum EndTime among
// results for the given artifact, or false when there are no matches.
func (s *ResultStore) GetLatestForArtifact(artifactID string) (types.TestResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest types.TestResult
	found := false
	for _, r := range s.results {
		if r.ArtifactID != artifactID {
			continue
		}
		if !found || r.EndTime.After(latest.EndTime) {
			latest = r
			found = true
		}
	}
	return latest, found
}

// Clear removes all stored results
func (s *ResultStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make(map[string]types.TestResult)
}

// Summary derives an ExecutionSummary over all stored results
func (s *ResultStore) Summary() types.ExecutionSummary {
	return types.Summarize(s.GetAllResults())
}
