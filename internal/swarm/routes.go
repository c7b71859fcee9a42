package swarm

import "sync"

// Route maps a task type onto the coordinator that owns it and the
// agent role preferred to run it.
type Route struct {
	Coordinator   string `json:"coordinator"`
	PreferredRole string `json:"preferred_role"`
}

// FallbackCoordinator receives tasks of unregistered types.
const FallbackCoordinator = "operations"

// RoutingTable resolves task types to routes. Unknown types fall back
// to the operations coordinator with no role preference.
type RoutingTable struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewRoutingTable creates an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{routes: make(map[string]Route)}
}

// DefaultRoutingTable returns the built-in routes for the stock
// research/quality/operations coordinators.
func DefaultRoutingTable() *RoutingTable {
	rt := NewRoutingTable()
	for taskType, route := range map[string]Route{
		"research":        {Coordinator: "research", PreferredRole: "researcher"},
		"data_analysis":   {Coordinator: "research", PreferredRole: "analyst"},
		"summarize":       {Coordinator: "research", PreferredRole: "researcher"},
		"code_generation": {Coordinator: "operations", PreferredRole: "coder"},
		"deployment":      {Coordinator: "operations", PreferredRole: "operator"},
		"code_review":     {Coordinator: "quality", PreferredRole: "reviewer"},
		"quality_check":   {Coordinator: "quality", PreferredRole: "reviewer"},
		"testing":         {Coordinator: "quality", PreferredRole: "tester"},
	} {
		rt.Register(taskType, route)
	}
	return rt
}

// Register adds or replaces the route for a task type.
func (rt *RoutingTable) Register(taskType string, r Route) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[taskType] = r
}

// Resolve returns the route for a task type, falling back to the
// default coordinator for unknown types.
func (rt *RoutingTable) Resolve(taskType string) Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if r, ok := rt.routes[taskType]; ok {
		return r
	}
	return Route{Coordinator: FallbackCoordinator}
}

// Types returns all registered task types.
func (rt *RoutingTable) Types() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	types := make([]string, 0, len(rt.routes))
	for t := range rt.routes {
		types = append(types, t)
	}
	return types
}

// DefaultCoordinators returns the stock coordinator pools.
func DefaultCoordinators() []CoordinatorConfig {
	return []CoordinatorConfig{
		{Name: "research", MaxParallel: 4},
		{Name: "quality", MaxParallel: 4},
		{Name: "operations", MaxParallel: 4},
	}
}
