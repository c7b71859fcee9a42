package swarm

import "testing"

func TestTaskStatusTransitions(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		TaskQueued:     {TaskAssigned, TaskCancelled},
		TaskAssigned:   {TaskProcessing, TaskCancelled},
		TaskProcessing: {TaskCompleted, TaskFailed, TaskCancelled, TaskQueued},
		TaskCompleted:  {},
		TaskFailed:     {},
		TaskCancelled:  {},
	}
	all := []TaskStatus{TaskQueued, TaskAssigned, TaskProcessing, TaskCompleted, TaskFailed, TaskCancelled}

	for from, edges := range allowed {
		ok := make(map[TaskStatus]bool)
		for _, to := range edges {
			ok[to] = true
		}
		for _, to := range all {
			if got := from.CanTransition(to); got != ok[to] {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, ok[to])
			}
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskQueued, TaskAssigned, TaskProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	for p := PriorityEmergency; p <= PriorityBackground; p++ {
		if !p.Valid() {
			t.Errorf("priority %d should be valid", p)
		}
	}
	if Priority(-1).Valid() || Priority(4).Valid() {
		t.Error("out-of-range priority accepted")
	}
}

func TestAgentStatusDispatchable(t *testing.T) {
	for _, s := range []AgentStatus{AgentIdle, AgentProcessing, AgentError} {
		if !s.Dispatchable() {
			t.Errorf("%s should be dispatchable", s)
		}
	}
	for _, s := range []AgentStatus{AgentPaused, AgentTerminated} {
		if s.Dispatchable() {
			t.Errorf("%s should not be dispatchable", s)
		}
	}
}
