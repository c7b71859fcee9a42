package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

var (
	_ swarm.TaskStore       = (*Mem)(nil)
	_ swarm.AgentStateStore = (*Mem)(nil)
	_ swarm.TaskStore       = (*Store)(nil)
	_ swarm.AgentStateStore = (*Store)(nil)
)

// Mem is an in-memory task and agent-state store. It backs tests and
// DSN-less deployments, and honors the same atomic-transition contract
// as the Postgres store via a single mutex.
type Mem struct {
	mu     sync.Mutex
	tasks  map[string]*swarm.Task
	agents map[string]*swarm.AgentState
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		tasks:  make(map[string]*swarm.Task),
		agents: make(map[string]*swarm.AgentState),
	}
}

// CreateTask inserts a new task record.
func (m *Mem) CreateTask(ctx context.Context, t *swarm.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("create task %s: already exists", t.ID)
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

// GetTask retrieves a task by id.
func (m *Mem) GetTask(ctx context.Context, id string) (*swarm.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, swarm.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateTask applies a patch without changing status.
func (m *Mem) UpdateTask(ctx context.Context, id string, patch swarm.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return swarm.ErrTaskNotFound
	}
	applyTaskPatch(t, patch)
	return nil
}

// TransitionTask atomically moves a task between statuses, applying the
// patch only when the task is still in the from status.
func (m *Mem) TransitionTask(ctx context.Context, id string, from, to swarm.TaskStatus, patch swarm.TaskPatch) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("transition task %s: %s -> %s is not a legal edge", id, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, swarm.ErrTaskNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	applyTaskPatch(t, patch)
	return true, nil
}

// NextQueuedTask returns the most urgent, oldest queued task for a coordinator.
func (m *Mem) NextQueuedTask(ctx context.Context, coordinator string) (*swarm.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*swarm.Task
	for _, t := range m.tasks {
		if t.Status == swarm.TaskQueued && t.Coordinator == coordinator {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

// ActiveTasks returns every task in a non-terminal status, oldest first.
func (m *Mem) ActiveTasks(ctx context.Context) ([]*swarm.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*swarm.Task
	for _, t := range m.tasks {
		if !t.Status.IsTerminal() {
			cp := *t
			tasks = append(tasks, &cp)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// RegisterAgent upserts an agent's state record.
func (m *Mem) RegisterAgent(ctx context.Context, st *swarm.AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.agents[st.AgentID] = &cp
	return nil
}

// GetAgentState retrieves one agent's state.
func (m *Mem) GetAgentState(ctx context.Context, id string) (*swarm.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[id]
	if !ok {
		return nil, swarm.ErrAgentNotFound
	}
	cp := *st
	return &cp, nil
}

// UpdateAgentState applies a partial update to an agent's state.
func (m *Mem) UpdateAgentState(ctx context.Context, id string, patch swarm.AgentStatePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[id]
	if !ok {
		return swarm.ErrAgentNotFound
	}
	if patch.Status != nil {
		st.Status = *patch.Status
	}
	if patch.CurrentTaskID != nil {
		st.CurrentTaskID = *patch.CurrentTaskID
	}
	if patch.TasksCompleted != nil {
		st.TasksCompleted = *patch.TasksCompleted
	}
	if patch.TasksFailed != nil {
		st.TasksFailed = *patch.TasksFailed
	}
	if patch.TokensUsed != nil {
		st.TokensUsed = *patch.TokensUsed
	}
	if patch.LastError != nil {
		st.LastError = *patch.LastError
	}
	if patch.LastHeartbeat != nil {
		st.LastHeartbeat = *patch.LastHeartbeat
	}
	st.UpdatedAt = time.Now()
	return nil
}

// AllAgentStates returns the state of every registered agent.
func (m *Mem) AllAgentStates(ctx context.Context) ([]*swarm.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*swarm.AgentState, 0, len(m.agents))
	for _, st := range m.agents {
		cp := *st
		states = append(states, &cp)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].AgentID < states[j].AgentID
	})
	return states, nil
}

func applyTaskPatch(t *swarm.Task, patch swarm.TaskPatch) {
	if patch.AssignedAgent != nil {
		t.AssignedAgent = *patch.AssignedAgent
	}
	if patch.Output != nil {
		t.Output = patch.Output
	}
	if patch.RetryCount != nil {
		t.RetryCount = *patch.RetryCount
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	if patch.StartedAt != nil {
		t.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		t.CompletedAt = patch.CompletedAt
	}
}
