package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ArtifactFormat identifies the recognized test artifact formats
type ArtifactFormat string

const (
	// FormatFeature is a Gherkin feature file. The runner consumes it
	// unmodified, so it can never be instrumented for coverage.
	FormatFeature ArtifactFormat = "feature"
	// FormatSide is a recorded browser session, also a black-box format.
	FormatSide ArtifactFormat = "side"
	// FormatScript is a plain runner script that supports instrumentation.
	FormatScript ArtifactFormat = "script"
	// FormatUnknown marks artifacts the scheduler filters out.
	FormatUnknown ArtifactFormat = ""
)

// BlackBox reports whether the runner executes this format unmodified,
// which precludes injecting the coverage/instrumentation agent.
func (f ArtifactFormat) BlackBox() bool {
	return f == FormatFeature || f == FormatSide
}

// Extension returns the file extension for the format, including the dot
func (f ArtifactFormat) Extension() string {
	switch f {
	case FormatFeature:
		return ".feature"
	case FormatSide:
		return ".side"
	case FormatScript:
		return ".txt"
	}
	return ""
}

// FormatForPath derives the artifact format from a file path
func FormatForPath(path string) ArtifactFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".feature":
		return FormatFeature
	case ".side":
		return FormatSide
	case ".txt":
		return FormatScript
	}
	return FormatUnknown
}

// InlineArtifact is a test definition supplied as raw content
type InlineArtifact struct {
	ID      string
	Format  ArtifactFormat
	Content string
}

// ArtifactRef is the caller-supplied union of a raw file path and an
// inline artifact. Exactly one of the two fields must be set.
type ArtifactRef struct {
	Path   string
	Inline *InlineArtifact
}

// ArtifactKind discriminates the resolved artifact variant
type ArtifactKind int

const (
	ArtifactFileRef ArtifactKind = iota
	ArtifactInline
)

// ResolvedArtifact is the tagged variant produced once per scheduling pass.
// Downstream components never re-discriminate the caller union.
type ResolvedArtifact struct {
	Kind    ArtifactKind
	ID      string
	Format  ArtifactFormat
	Path    string // set for ArtifactFileRef
	Content string // set for ArtifactInline
}

// Resolve converts a caller-supplied reference into its tagged variant
func (ref ArtifactRef) Resolve() (ResolvedArtifact, error) {
	if ref.Inline != nil && ref.Path != "" {
		return ResolvedArtifact{}, fmt.Errorf("artifact reference sets both path and inline content")
	}
	if ref.Inline != nil {
		if ref.Inline.ID == "" {
			return ResolvedArtifact{}, fmt.Errorf("inline artifact requires an id")
		}
		format := ref.Inline.Format
		if format == FormatUnknown {
			format = FormatFeature
		}
		return ResolvedArtifact{
			Kind:    ArtifactInline,
			ID:      ref.Inline.ID,
			Format:  format,
			Content: ref.Inline.Content,
		}, nil
	}
	if ref.Path == "" {
		return ResolvedArtifact{}, fmt.Errorf("empty artifact reference")
	}
	return ResolvedArtifact{
		Kind:   ArtifactFileRef,
		ID:     strings.TrimSuffix(filepath.Base(ref.Path), filepath.Ext(ref.Path)),
		Format: FormatForPath(ref.Path),
		Path:   ref.Path,
	}, nil
}

// DisplayName returns a human-readable name for result tables and reports
func (a ResolvedArtifact) DisplayName() string {
	if a.Kind == ArtifactFileRef {
		return filepath.Base(a.Path)
	}
	return a.ID
}
