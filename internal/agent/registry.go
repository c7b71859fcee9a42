package agent

import (
	"fmt"
	"sync"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// Factory builds a Processor for an agent with the given config.
type Factory func(cfg swarm.AgentConfig) Processor

// Registry maps role names to processor factories. Agent kinds are
// plain values behind the Processor interface; there is no subclassing.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry. Roles without a registered
// factory fall back to the echo placeholder in New.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a role.
func (r *Registry) Register(role string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[role] = f
}

// New builds a processor for the config's role. Roles without a
// factory get the echo placeholder.
func (r *Registry) New(cfg swarm.AgentConfig) Processor {
	r.mu.RLock()
	f, ok := r.factories[cfg.Role]
	r.mu.RUnlock()
	if !ok {
		return EchoProcessor{}
	}
	return f(cfg)
}

// Lookup returns the factory for a role, or an error if none exists.
func (r *Registry) Lookup(role string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("no processor factory for role %q", role)
	}
	return f, nil
}

// Roles returns all registered role names.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.factories))
	for role := range r.factories {
		roles = append(roles, role)
	}
	return roles
}
