package tool

import (
	"fmt"
	"sort"
	"sync"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// Registry holds the tool implementations available to the executor. It is
// injected at construction time and frozen before the first run starts, so
// lookups during execution need no synchronization guarantees beyond the
// read lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool implementation. Registration fails once the registry
// has been frozen or when a name is registered twice.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return runweaveerrors.NewValidationError("tool", "tool is nil", nil)
	}
	name := t.Name()
	if name == "" {
		return runweaveerrors.NewValidationError("tool", "tool has no name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return runweaveerrors.NewValidationError("tool", fmt.Sprintf("registry is frozen, cannot register %q", name), nil)
	}
	if _, exists := r.tools[name]; exists {
		return runweaveerrors.NewValidationError("tool", fmt.Sprintf("tool %q already registered", name), nil)
	}

	r.tools[name] = t
	return nil
}

// Freeze marks the registry immutable. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, runweaveerrors.NewToolError(name, "unknown_tool", 0, fmt.Errorf("no tool registered under %q", name))
	}
	return t, nil
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
