package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpilot/testpilot/types"
)

// Generator holds the registered report formats and writes reports to disk
type Generator struct {
	formats map[string]Format
	dir     string // default output directory for Publish
	log     log.Logger
}

// NewGenerator creates a generator with the built-in HTML and JSON formats
func NewGenerator(dir string, logger log.Logger) (*Generator, error) {
	if logger == nil {
		logger = log.New()
	}
	html, err := NewHTMLFormat()
	if err != nil {
		return nil, err
	}
	g := &Generator{
		formats: make(map[string]Format),
		dir:     dir,
		log:     logger,
	}
	g.Register(html)
	g.Register(NewJSONFormat())
	return g, nil
}

// Register adds a format, replacing any existing one with the same name
func (g *Generator) Register(format Format) {
	g.formats[format.Name()] = format
}

// Generate renders the named format over the given results
func (g *Generator) Generate(name string, results []types.TestResult) ([]byte, error) {
	format, ok := g.formats[name]
	if !ok {
		return nil, fmt.Errorf("unknown report format %q", name)
	}
	return format.Generate(results)
}

// WriteReport renders the named format and persists it, creating the
// parent directory first. A path without the format's extension gets it
// appended. Returns the final path written.
func (g *Generator) WriteReport(name string, results []types.TestResult, path string) (string, error) {
	format, ok := g.formats[name]
	if !ok {
		return "", fmt.Errorf("unknown report format %q", name)
	}

	content, err := format.Generate(results)
	if err != nil {
		return "", err
	}

	if !strings.HasSuffix(path, format.Extension()) {
		path += format.Extension()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing report %s: %w", path, err)
	}
	g.log.Info("Wrote report", "format", name, "path", path)
	return path, nil
}

// Publish writes every registered format into the generator's directory.
// It satisfies the scheduler's report sink.
func (g *Generator) Publish(results []types.TestResult) error {
	var errs []string
	for name := range g.formats {
		if _, err := g.WriteReport(name, results, filepath.Join(g.dir, "test-report")); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publishing reports: %s", strings.Join(errs, "; "))
	}
	return nil
}
