package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpilot/testpilot/metrics"
)

// Binary describes one external tool the pipeline depends on
type Binary struct {
	Name           string
	CandidatePaths []string // probed in priority order; first valid wins
	FallbackPaths  []string // bundled or workspace-local copies
	DownloadURL    string
	MinValidBytes  int64
	LegacyPath     string // best-effort back-compat mirror destination
}

// DependencyError indicates that provisioning a binary exhausted every
// fallback and transport. It is fatal and aborts the batch before any
// test runs.
type DependencyError struct {
	Name string
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Name, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Provisioner guarantees required external binaries exist locally and are
// valid before a batch runs. Provisioning is idempotent: a call against an
// already-valid binary performs zero network operations.
type Provisioner struct {
	transports    []Transport
	settleDelay   time.Duration
	verifyRetries int
	verifyDelay   time.Duration
	log           log.Logger
}

// Config holds configuration for creating a new Provisioner
type Config struct {
	Transports    []Transport
	SettleDelay   time.Duration // wait after each transport attempt
	VerifyRetries int           // bounded existence+size verification loop
	VerifyDelay   time.Duration
	Log           log.Logger
}

const (
	defaultSettleDelay   = 500 * time.Millisecond
	defaultVerifyRetries = 5
	defaultVerifyDelay   = 200 * time.Millisecond
)

// NewProvisioner creates a provisioner. When no transports are given it
// uses the plain HTTP transport with a retryable secondary.
func NewProvisioner(cfg Config) *Provisioner {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if len(cfg.Transports) == 0 {
		cfg.Transports = []Transport{
			NewHTTPTransport(2 * time.Minute),
			NewRetryableTransport(2*time.Minute, 3),
		}
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.VerifyRetries == 0 {
		cfg.VerifyRetries = defaultVerifyRetries
	}
	if cfg.VerifyDelay == 0 {
		cfg.VerifyDelay = defaultVerifyDelay
	}
	return &Provisioner{
		transports:    cfg.Transports,
		settleDelay:   cfg.SettleDelay,
		verifyRetries: cfg.VerifyRetries,
		verifyDelay:   cfg.VerifyDelay,
		log:           cfg.Log,
	}
}

// Ensure provisions every binary, failing fast on the first one that
// exhausts all fallbacks and transports.
func (p *Provisioner) Ensure(ctx context.Context, binaries []Binary) error {
	for _, bin := range binaries {
		path, err := p.ensureOne(ctx, bin)
		if err != nil {
			return err
		}
		p.mirrorLegacy(bin, path)
	}
	return nil
}

// ensureOne provisions a single binary and returns the path it lives at
func (p *Provisioner) ensureOne(ctx context.Context, bin Binary) (string, error) {
	if len(bin.CandidatePaths) == 0 {
		return "", &DependencyError{Name: bin.Name, Err: fmt.Errorf("no candidate paths configured")}
	}

	// Already valid on disk: accept immediately, no network.
	if path, ok := firstValidPath(bin.CandidatePaths, bin.MinValidBytes); ok {
		p.log.Debug("Dependency already provisioned", "name", bin.Name, "path", path)
		return path, nil
	}

	dest := bin.CandidatePaths[0]

	// Local fallback copy before touching the network.
	if src, ok := firstValidPath(bin.FallbackPaths, bin.MinValidBytes); ok {
		if err := copyFile(src, dest); err != nil {
			p.log.Warn("Local fallback copy failed", "name", bin.Name, "src", src, "error", err)
		} else if validFile(dest, bin.MinValidBytes) {
			p.log.Info("Provisioned dependency from local fallback", "name", bin.Name, "src", src, "dest", dest)
			return dest, nil
		}
	}

	if bin.DownloadURL == "" {
		return "", &DependencyError{Name: bin.Name, Err: fmt.Errorf("not found locally and no download URL configured")}
	}

	var lastErr error
	for _, transport := range p.transports {
		p.log.Info("Downloading dependency", "name", bin.Name, "url", bin.DownloadURL, "transport", transport.Name())
		fetchErr := transport.Fetch(ctx, bin.DownloadURL, dest)
		if fetchErr != nil {
			p.log.Warn("Transport failed", "name", bin.Name, "transport", transport.Name(), "error", fetchErr)
		}

		// Give the filesystem a moment to settle, then verify with a
		// bounded existence+size loop. The verification runs after every
		// attempt: a transport that errors after writing a valid file
		// still counts as a success.
		time.Sleep(p.settleDelay)
		if p.verify(dest, bin.MinValidBytes) {
			metrics.RecordDownload(bin.Name, transport.Name(), true)
			p.log.Info("Provisioned dependency", "name", bin.Name, "path", dest, "transport", transport.Name())
			return dest, nil
		}
		metrics.RecordDownload(bin.Name, transport.Name(), false)

		if fetchErr != nil {
			lastErr = fetchErr
			continue
		}
		lastErr = fmt.Errorf("downloaded file %s failed verification (min %d bytes)", dest, bin.MinValidBytes)
		p.log.Warn("Downloaded file failed verification", "name", bin.Name, "transport", transport.Name())
	}

	return "", &DependencyError{Name: bin.Name, Err: fmt.Errorf("all transports exhausted: %w", lastErr)}
}

// verify runs the bounded existence+size check loop with a fixed delay
func (p *Provisioner) verify(path string, minBytes int64) bool {
	for i := 0; i < p.verifyRetries; i++ {
		if validFile(path, minBytes) {
			return true
		}
		time.Sleep(p.verifyDelay)
	}
	return false
}

// mirrorLegacy copies the provisioned binary to its back-compat location.
// Mirror failure is logged, never fatal.
func (p *Provisioner) mirrorLegacy(bin Binary, path string) {
	if bin.LegacyPath == "" || bin.LegacyPath == path {
		return
	}
	if err := copyFile(path, bin.LegacyPath); err != nil {
		p.log.Warn("Failed to mirror dependency to legacy path", "name", bin.Name, "legacyPath", bin.LegacyPath, "error", err)
		return
	}
	p.log.Debug("Mirrored dependency to legacy path", "name", bin.Name, "legacyPath", bin.LegacyPath)
}

// firstValidPath probes paths in order and returns the first that exists
// and meets the size heuristic. First success wins.
func firstValidPath(paths []string, minBytes int64) (string, bool) {
	for _, path := range paths {
		if validFile(path, minBytes) {
			return path, true
		}
	}
	return "", false
}

// validFile reports whether path exists as a regular file of at least
// minBytes bytes.
func validFile(path string, minBytes int64) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() >= minBytes
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	return nil
}
