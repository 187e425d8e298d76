package environment

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store persists the environment registry between sessions
type Store interface {
	LoadEnvironments() (map[string]Environment, error)
	SaveEnvironments(envs map[string]Environment) error
}

// YAMLStore persists environments to a single YAML file
type YAMLStore struct {
	path string
}

// NewYAMLStore creates a store backed by the given file path
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

type storeFile struct {
	Environments []Environment `yaml:"environments"`
}

// LoadEnvironments reads the registry from disk. A missing file is not an
// error; it yields an empty registry.
func (s *YAMLStore) LoadEnvironments() (map[string]Environment, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Environment{}, nil
		}
		return nil, fmt.Errorf("reading environments file %s: %w", s.path, err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing environments file %s: %w", s.path, err)
	}

	envs := make(map[string]Environment, len(file.Environments))
	for _, env := range file.Environments {
		if env.ID == "" {
			return nil, fmt.Errorf("environments file %s contains an entry without an id", s.path)
		}
		if _, exists := envs[env.ID]; exists {
			return nil, fmt.Errorf("environments file %s contains duplicate id %q", s.path, env.ID)
		}
		envs[env.ID] = env
	}
	return envs, nil
}

// SaveEnvironments writes the registry to disk, creating the parent
// directory if necessary.
func (s *YAMLStore) SaveEnvironments(envs map[string]Environment) error {
	file := storeFile{Environments: make([]Environment, 0, len(envs))}
	for _, env := range envs {
		file.Environments = append(file.Environments, env)
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encoding environments: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating environments directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing environments file %s: %w", s.path, err)
	}
	return nil
}
