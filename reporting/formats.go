// Package reporting generates summary reports over stored results.
// Formats are pluggable; HTML and JSON are built in.
package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/testpilot/testpilot/templates"
	"github.com/testpilot/testpilot/types"
)

// Format is the report format contract
type Format interface {
	Name() string
	Extension() string
	Generate(results []types.TestResult) ([]byte, error)
}

// reportData is the template payload for rendered formats
type reportData struct {
	GeneratedAt time.Time
	Summary     types.ExecutionSummary
	Results     []types.TestResult
}

// HTMLFormat renders the embedded HTML report template
type HTMLFormat struct {
	tmpl *template.Template
}

// NewHTMLFormat parses the embedded report template
func NewHTMLFormat() (*HTMLFormat, error) {
	tmpl, err := template.New("report").Funcs(templates.GetTemplateFunc()).Parse(templates.ReportHTML)
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &HTMLFormat{tmpl: tmpl}, nil
}

func (f *HTMLFormat) Name() string      { return "html" }
func (f *HTMLFormat) Extension() string { return ".html" }

func (f *HTMLFormat) Generate(results []types.TestResult) ([]byte, error) {
	data := reportData{
		GeneratedAt: time.Now(),
		Summary:     types.Summarize(results),
		Results:     results,
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering HTML report: %w", err)
	}
	return buf.Bytes(), nil
}

// JSONFormat emits the summary and results as a JSON document
type JSONFormat struct{}

// NewJSONFormat creates the JSON report format
func NewJSONFormat() *JSONFormat {
	return &JSONFormat{}
}

func (f *JSONFormat) Name() string      { return "json" }
func (f *JSONFormat) Extension() string { return ".json" }

type jsonReport struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	Summary     types.ExecutionSummary `json:"summary"`
	Results     []types.TestResult     `json:"results"`
}

func (f *JSONFormat) Generate(results []types.TestResult) ([]byte, error) {
	report := jsonReport{
		GeneratedAt: time.Now(),
		Summary:     types.Summarize(results),
		Results:     results,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding JSON report: %w", err)
	}
	return data, nil
}
