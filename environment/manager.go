package environment

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Manager is the registry of named execution environments. It owns the
// Environment records exclusively and tracks the single "current" one.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	envs    map[string]Environment
	current string
	log     log.Logger
}

// ManagerConfig holds configuration for creating a new Manager
type ManagerConfig struct {
	Store Store
	Log   log.Logger
}

// NewManager creates a manager, loading the registry from the store and
// selecting an initial current environment (a default if one exists).
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("environment store is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	envs, err := cfg.Store.LoadEnvironments()
	if err != nil {
		return nil, fmt.Errorf("loading environments: %w", err)
	}

	m := &Manager{
		store: cfg.Store,
		envs:  envs,
		log:   cfg.Log,
	}
	m.current = selectCurrent(envs)
	if m.current != "" {
		m.log.Debug("Selected current environment", "id", m.current)
	}
	return m, nil
}

// selectCurrent picks a current environment: prefer a default, else any.
// The registry is unordered; current-selection is the only ordering concern.
func selectCurrent(envs map[string]Environment) string {
	var first string
	for id, env := range envs {
		if env.IsDefault {
			return id
		}
		if first == "" {
			first = id
		}
	}
	return first
}

// Get returns the environment with the given id
func (m *Manager) Get(id string) (Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	env, ok := m.envs[id]
	if !ok {
		return Environment{}, &ConfigurationError{ID: id}
	}
	return env, nil
}

// Current returns the current environment, if one is selected
func (m *Manager) Current() (Environment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == "" {
		return Environment{}, false
	}
	env, ok := m.envs[m.current]
	return env, ok
}

// SetCurrent selects the current environment by id
func (m *Manager) SetCurrent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.envs[id]; !ok {
		return &ConfigurationError{ID: id}
	}
	m.current = id
	m.log.Debug("Current environment changed", "id", id)
	return nil
}

// Add registers a new environment and persists the registry
func (m *Manager) Add(env Environment) error {
	if env.ID == "" {
		return fmt.Errorf("environment requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.envs[env.ID]; exists {
		return fmt.Errorf("environment %q already exists", env.ID)
	}
	m.envs[env.ID] = env
	if m.current == "" {
		m.current = env.ID
	}
	return m.persist()
}

// Update replaces an existing environment and persists the registry
func (m *Manager) Update(env Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.envs[env.ID]; !exists {
		return &ConfigurationError{ID: env.ID}
	}
	m.envs[env.ID] = env
	return m.persist()
}

// Remove deletes an environment and persists the registry. Removing the
// current environment re-selects one, preferring a remaining default.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.envs[id]; !exists {
		return &ConfigurationError{ID: id}
	}
	delete(m.envs, id)

	if m.current == id {
		m.current = selectCurrent(m.envs)
		m.log.Debug("Removed current environment, re-selected", "removed", id, "current", m.current)
	}
	return m.persist()
}

// Environments returns all registered environments
func (m *Manager) Environments() []Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	envs := make([]Environment, 0, len(m.envs))
	for _, env := range m.envs {
		envs = append(envs, env)
	}
	return envs
}

// Resolve returns the named environment, or the current one when id is
// empty. An empty id with no current selection is a configuration error.
func (m *Manager) Resolve(id string) (Environment, error) {
	if id != "" {
		return m.Get(id)
	}
	env, ok := m.Current()
	if !ok {
		return Environment{}, &ConfigurationError{}
	}
	return env, nil
}

func (m *Manager) persist() error {
	if err := m.store.SaveEnvironments(m.envs); err != nil {
		return fmt.Errorf("persisting environments: %w", err)
	}
	return nil
}
