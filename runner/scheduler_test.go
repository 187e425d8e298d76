package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpilot/testpilot/environment"
	"github.com/testpilot/testpilot/types"
)

// envStore is an in-memory environment.Store for scheduler tests
type envStore struct {
	envs map[string]environment.Environment
}

func (s *envStore) LoadEnvironments() (map[string]environment.Environment, error) {
	return s.envs, nil
}

func (s *envStore) SaveEnvironments(envs map[string]environment.Environment) error {
	s.envs = envs
	return nil
}

// fakeProcess is a ProcessRunner that serves canned output per artifact
// file name and records every launch. Synthesized inline files carry a
// unique suffix, so lookups fall back to stem-prefix matching.
type fakeProcess struct {
	mu        sync.Mutex
	runs      [][]string
	started   [][]string
	outputs   map[string]string // keyed by artifact file name
	launchErr map[string]error
	panicOn   map[string]bool
	contents  map[string]string // artifact file contents observed at launch
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		outputs:   map[string]string{},
		launchErr: map[string]error{},
		panicOn:   map[string]bool{},
		contents:  map[string]string{},
	}
}

// lookup resolves a recorded key for the launched artifact file
func (f *fakeProcess) lookup(base string, keys map[string]string) (string, bool) {
	if _, ok := keys[base]; ok {
		return base, true
	}
	for key := range keys {
		ext := filepath.Ext(key)
		stem := strings.TrimSuffix(key, ext)
		if strings.HasPrefix(base, stem+"-") && strings.HasSuffix(base, ext) {
			return key, true
		}
	}
	return "", false
}

func (f *fakeProcess) Run(ctx context.Context, dir string, name string, args ...string) (ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, append([]string{name}, args...))
	base := filepath.Base(args[0])
	key := base
	if resolved, ok := f.lookup(base, f.outputs); ok {
		key = resolved
	}
	if data, err := os.ReadFile(args[0]); err == nil {
		f.contents[key] = string(data)
	}
	if f.panicOn[key] {
		panic("runner wrapper corrupted")
	}
	if err, ok := f.launchErr[key]; ok {
		return ProcessResult{}, err
	}
	return ProcessResult{Output: f.outputs[key]}, nil
}

func (f *fakeProcess) Start(ctx context.Context, dir string, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, append([]string{name}, args...))
	return nil
}

func (f *fakeProcess) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeVerifier struct {
	err   error
	calls int
}

func (v *fakeVerifier) VerifyCompletion(ctx context.Context, results []types.TestResult) error {
	v.calls++
	return v.err
}

type fakeReports struct {
	err       error
	published [][]types.TestResult
}

func (r *fakeReports) Publish(results []types.TestResult) error {
	r.published = append(r.published, results)
	return r.err
}

func newTestScheduler(t *testing.T, process *fakeProcess, mutate func(*Config)) *Scheduler {
	t.Helper()

	envs, err := environment.NewManager(environment.ManagerConfig{
		Store: &envStore{envs: map[string]environment.Environment{
			"dev":     {ID: "dev", BaseURL: "http://localhost:3000", IsDefault: true},
			"staging": {ID: "staging", BaseURL: "https://staging.example.com"},
		}},
	})
	require.NoError(t, err)

	cfg := Config{
		Environments: envs,
		Command:      NewCommandBuilder("test-runner", nil),
		Process:      process,
		WorkDir:      t.TempDir(),
		PreExecDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func writeArtifact(t *testing.T, dir, name, content string) types.ArtifactRef {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return types.ArtifactRef{Path: path}
}

func TestExecuteTestsSequential(t *testing.T) {
	process := newFakeProcess()
	process.outputs["login.feature"] = "3 scenarios\n3 passed: ok\n"
	process.outputs["checkout.feature"] = "AssertionError: cart total mismatch\n"
	process.outputs["search.feature"] = "PASSED\n"
	s := newTestScheduler(t, process, nil)

	dir := t.TempDir()
	refs := []types.ArtifactRef{
		writeArtifact(t, dir, "login.feature", "Feature: login"),
		writeArtifact(t, dir, "checkout.feature", "Feature: checkout"),
		writeArtifact(t, dir, "search.feature", "Feature: search"),
	}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, types.TestStatusPassed, results[0].Status)
	assert.Equal(t, types.TestStatusFailed, results[1].Status)
	assert.Equal(t, "AssertionError: cart total mismatch", results[1].ErrorMessage)
	assert.Equal(t, types.TestStatusPassed, results[2].Status)

	// Default environment resolved for every artifact
	for _, r := range results {
		assert.Equal(t, "dev", r.EnvironmentID)
		assert.Equal(t, r.ArtifactID, r.FeatureName)
	}

	assert.Len(t, s.Store().GetAllResults(), 3)
	assert.Equal(t, 3, process.runCount())
}

func TestExecuteTestsFailFast(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	process.outputs["b.feature"] = "FAILED\n"
	process.outputs["c.feature"] = "passed: ok\n"
	s := newTestScheduler(t, process, nil)

	dir := t.TempDir()
	refs := []types.ArtifactRef{
		writeArtifact(t, dir, "a.feature", "Feature: a"),
		writeArtifact(t, dir, "b.feature", "Feature: b"),
		writeArtifact(t, dir, "c.feature", "Feature: c"),
	}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{FailFast: true})
	require.NoError(t, err)

	// The failing artifact stops the batch; the third never runs
	require.Len(t, results, 2)
	assert.Equal(t, types.TestStatusFailed, results[1].Status)
	assert.Equal(t, 2, process.runCount())
}

func TestExecuteTestsParallel(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	process.outputs["b.feature"] = "FAILED\n"
	process.outputs["c.feature"] = "skipped: filter\n"
	s := newTestScheduler(t, process, nil)

	dir := t.TempDir()
	refs := []types.ArtifactRef{
		writeArtifact(t, dir, "a.feature", "Feature: a"),
		writeArtifact(t, dir, "b.feature", "Feature: b"),
		writeArtifact(t, dir, "c.feature", "Feature: c"),
	}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{Parallel: true})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Result order matches input order regardless of completion order
	assert.Equal(t, "a", results[0].ArtifactID)
	assert.Equal(t, "b", results[1].ArtifactID)
	assert.Equal(t, "c", results[2].ArtifactID)
	assert.Equal(t, types.TestStatusPassed, results[0].Status)
	assert.Equal(t, types.TestStatusFailed, results[1].Status)
	assert.Equal(t, types.TestStatusSkipped, results[2].Status)
	assert.Equal(t, 3, process.runCount())
}

func TestExecuteTestsLaunchFailureBecomesErrorResult(t *testing.T) {
	process := newFakeProcess()
	process.launchErr["broken.feature"] = errors.New("launching test-runner: executable not found")
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "broken.feature", "Feature: broken")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.TestStatusError, results[0].Status)
	assert.Contains(t, results[0].ErrorMessage, "executable not found")
	assert.NotEmpty(t, results[0].StackTrace)

	stored, ok := s.Store().GetLatestForArtifact("broken")
	require.True(t, ok)
	assert.Equal(t, types.TestStatusError, stored.Status)
}

func TestExecuteTestsUnknownEnvironment(t *testing.T) {
	process := newFakeProcess()
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	_, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{EnvironmentID: "missing"})
	var confErr *environment.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Zero(t, process.runCount())
}

func TestExecuteTestsInlineArtifact(t *testing.T) {
	process := newFakeProcess()
	process.outputs["adhoc.feature"] = "1 scenario passed: ok\n"
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{{Inline: &types.InlineArtifact{
		ID:      "adhoc",
		Format:  types.FormatFeature,
		Content: "Feature: adhoc\n  Scenario: quick check",
	}}}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.TestStatusPassed, results[0].Status)

	// The synthesized file carried the content with a trailing newline
	// and was removed after the run.
	assert.Equal(t, "Feature: adhoc\n  Scenario: quick check\n", process.contents["adhoc.feature"])
	require.Len(t, process.runs, 1)
	synthesized := process.runs[0][1]
	assert.Equal(t, filepath.Join(s.workDir, testFilesDir), filepath.Dir(synthesized))
	assert.True(t, strings.HasPrefix(filepath.Base(synthesized), "adhoc-"))
	assert.True(t, strings.HasSuffix(synthesized, ".feature"))
	assert.NoFileExists(t, synthesized)
}

func TestExecuteTestsParallelInlineArtifactsShareID(t *testing.T) {
	process := newFakeProcess()
	process.outputs["dup.feature"] = "passed: ok\n"
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{
		{Inline: &types.InlineArtifact{ID: "dup", Format: types.FormatFeature, Content: "Feature: first"}},
		{Inline: &types.InlineArtifact{ID: "dup", Format: types.FormatFeature, Content: "Feature: second"}},
	}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{Parallel: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.TestStatusPassed, results[0].Status)
	assert.Equal(t, types.TestStatusPassed, results[1].Status)

	// Same id, distinct synthesized paths, both cleaned up
	require.Len(t, process.runs, 2)
	first, second := process.runs[0][1], process.runs[1][1]
	assert.NotEqual(t, first, second)
	assert.NoFileExists(t, first)
	assert.NoFileExists(t, second)
}

func TestExecuteTestsFiltersUnrecognizedFormats(t *testing.T) {
	process := newFakeProcess()
	process.outputs["good.feature"] = "passed: ok\n"
	s := newTestScheduler(t, process, nil)

	dir := t.TempDir()
	refs := []types.ArtifactRef{
		writeArtifact(t, dir, "binary.exe", "MZ"),
		writeArtifact(t, dir, "good.feature", "Feature: good"),
		{}, // unresolvable
	}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)

	// Filtered artifacts never run and never alter batch success
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].ArtifactID)
	assert.Equal(t, 1, process.runCount())
	assert.True(t, types.Summarize(results).Success)
}

func TestExecuteTestsVerificationFailure(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	verifier := &fakeVerifier{err: errors.New("no report directory found")}
	reports := &fakeReports{}
	s := newTestScheduler(t, process, func(cfg *Config) {
		cfg.Verifier = verifier
		cfg.Reports = reports
	})

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, verifier.calls)

	// Produced results remain available despite the terminal error
	require.Len(t, results, 1)
	assert.Equal(t, types.TestStatusPassed, results[0].Status)
	assert.Len(t, s.Store().GetAllResults(), 1)

	// Report publication never happens after a verification failure
	assert.Empty(t, reports.published)
}

func TestExecuteTestsReportSinkFailureIsNotFatal(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	reports := &fakeReports{err: errors.New("disk full")}
	s := newTestScheduler(t, process, func(cfg *Config) {
		cfg.Reports = reports
	})

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, reports.published, 1)
}

func TestExecuteTestsStartsDependentService(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"

	healthCalls := 0
	s := newTestScheduler(t, process, func(cfg *Config) {
		cfg.ServiceCmd = []string{"app-under-test", "--port", "3000"}
		cfg.HealthCheck = func(ctx context.Context) error {
			healthCalls++
			if healthCalls < 2 {
				return errors.New("booting")
			}
			return nil
		}
	})

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{StartDependentService: true})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.Len(t, process.started, 1)
	assert.Equal(t, []string{"app-under-test", "--port", "3000"}, process.started[0])
	assert.Equal(t, 2, healthCalls)
}

func TestExecuteTestsDerivesHealthCheckFromEnvironment(t *testing.T) {
	var mu sync.Mutex
	healthHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			mu.Lock()
			healthHits++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	envs, err := environment.NewManager(environment.ManagerConfig{
		Store: &envStore{envs: map[string]environment.Environment{
			"dev": {ID: "dev", BaseURL: srv.URL, IsDefault: true},
		}},
	})
	require.NoError(t, err)

	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	s, err := NewScheduler(Config{
		Environments: envs,
		Command:      NewCommandBuilder("test-runner", nil),
		Process:      process,
		WorkDir:      t.TempDir(),
		PreExecDelay: time.Millisecond,
		ServiceCmd:   []string{"app-under-test"},
	})
	require.NoError(t, err)

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	// No explicit health check configured; the gate probes <baseUrl>/health
	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{StartDependentService: true})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, healthHits, 1)
}

func TestExecuteTestsPanicBecomesErrorResult(t *testing.T) {
	process := newFakeProcess()
	process.panicOn["boom.feature"] = true
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "boom.feature", "Feature: boom")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, types.TestStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "runtime error")
	assert.NotEmpty(t, result.StackTrace)
	assert.Equal(t, result.Duration, result.EndTime.Sub(result.StartTime))
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestExecuteTestsSkipsServiceWhenNotRequested(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "passed: ok\n"
	s := newTestScheduler(t, process, func(cfg *Config) {
		cfg.ServiceCmd = []string{"app-under-test"}
	})

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}
	_, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{})
	require.NoError(t, err)
	assert.Empty(t, process.started)
}

func TestExecuteTestsNamedEnvironment(t *testing.T) {
	process := newFakeProcess()
	process.outputs["a.feature"] = "1 Scenario 1 passed\n"
	s := newTestScheduler(t, process, nil)

	refs := []types.ArtifactRef{writeArtifact(t, t.TempDir(), "a.feature", "Feature: a")}

	results, err := s.ExecuteTests(context.Background(), refs, types.ExecutionOptions{EnvironmentID: "staging"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.TestStatusPassed, results[0].Status)
	assert.Equal(t, "staging", results[0].EnvironmentID)

	require.Len(t, process.runs, 1)
	assert.Contains(t, process.runs[0], "--env")
	assert.Contains(t, process.runs[0], "staging")
}

func TestNewSchedulerValidation(t *testing.T) {
	envs, err := environment.NewManager(environment.ManagerConfig{Store: &envStore{envs: map[string]environment.Environment{}}})
	require.NoError(t, err)

	_, err = NewScheduler(Config{Command: NewCommandBuilder("r", nil), WorkDir: "w"})
	assert.ErrorContains(t, err, "environment manager")

	_, err = NewScheduler(Config{Environments: envs, WorkDir: "w"})
	assert.ErrorContains(t, err, "command builder")

	_, err = NewScheduler(Config{Environments: envs, Command: NewCommandBuilder("r", nil)})
	assert.ErrorContains(t, err, "work directory")
}
