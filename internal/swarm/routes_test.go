package swarm

import "testing"

func TestRoutingTableResolve(t *testing.T) {
	rt := DefaultRoutingTable()

	r := rt.Resolve("code_review")
	if r.Coordinator != "quality" || r.PreferredRole != "reviewer" {
		t.Errorf("code_review route = %+v", r)
	}

	r = rt.Resolve("interpretive_dance")
	if r.Coordinator != FallbackCoordinator {
		t.Errorf("unknown type coordinator = %s, want %s", r.Coordinator, FallbackCoordinator)
	}
	if r.PreferredRole != "" {
		t.Errorf("unknown type role = %q, want none", r.PreferredRole)
	}
}

func TestRoutingTableRegisterOverrides(t *testing.T) {
	rt := DefaultRoutingTable()
	rt.Register("research", Route{Coordinator: "operations", PreferredRole: "generalist"})
	if r := rt.Resolve("research"); r.Coordinator != "operations" {
		t.Errorf("override not applied: %+v", r)
	}
}

func TestRoutingTableTypes(t *testing.T) {
	rt := NewRoutingTable()
	rt.Register("a", Route{Coordinator: "research"})
	rt.Register("b", Route{Coordinator: "quality"})
	if got := rt.Types(); len(got) != 2 {
		t.Errorf("types = %v", got)
	}
}
