package environment

import (
	"fmt"
	"time"
)

// Environment describes a named execution target for test artifacts
type Environment struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	BaseURL    string            `yaml:"baseUrl"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	RetryCount int               `yaml:"retryCount,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Variables  map[string]string `yaml:"variables,omitempty"`
	Tags       []string          `yaml:"tags,omitempty"`
	IsDefault  bool              `yaml:"default,omitempty"`
}

// ConfigurationError indicates an unknown or missing environment.
// It is fatal and propagates to the caller.
type ConfigurationError struct {
	ID string
}

func (e *ConfigurationError) Error() string {
	if e.ID == "" {
		return "no environment configured"
	}
	return fmt.Sprintf("unknown environment %q", e.ID)
}
