package detection

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cropsight/internal/pipeline"
)

// Config selects and parameterizes a detector backend
type Config struct {
	Kind          string
	Endpoint      string
	ReplayFile    string
	ConfThreshold float32
}

// Factory builds a detector backend from its config
type Factory func(cfg Config) (pipeline.DetectorTracker, error)

// Registry maps backend names to constructors
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in backends registered
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.factories["remote"] = func(cfg Config) (pipeline.DetectorTracker, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote detector requires an endpoint")
		}
		return NewRemoteDetector(cfg.Endpoint, cfg.ConfThreshold), nil
	}
	r.factories["replay"] = func(cfg Config) (pipeline.DetectorTracker, error) {
		if cfg.ReplayFile == "" {
			return nil, fmt.Errorf("replay detector requires a detections file")
		}
		return NewReplayDetector(cfg.ReplayFile)
	}

	return r
}

// Register adds a backend constructor under name
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("backend factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Build constructs the backend named by cfg.Kind
func (r *Registry) Build(cfg Config) (pipeline.DetectorTracker, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown detector backend %q (have: %s)",
			cfg.Kind, strings.Join(r.Names(), ", "))
	}
	return factory(cfg)
}

// Names returns the registered backend names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
