package gate

import (
	"fmt"
	"sync"
)

// Registry holds the available step definitions plans are assembled from.
// Registration happens at startup; the planner only reads.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Step
	order []string
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Step)}
}

// Register adds a step definition. Returns an error if a step with the
// same name is already registered.
func (r *Registry) Register(s *Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.Name]; exists {
		return fmt.Errorf("gate step %q already registered", s.Name)
	}
	r.byID[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Get returns a step by name, or nil if not registered.
func (r *Registry) Get(name string) *Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[name]
}

// Names returns all registered step names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered steps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
