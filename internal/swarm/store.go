package swarm

import (
	"context"
	"errors"
)

// Store-level sentinel errors shared by all implementations.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrAgentNotFound = errors.New("agent not found")
)

// TaskStore is the durable record of every task. The orchestrator is
// its only writer for status fields; agents never touch it directly.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTask applies a patch without changing status.
	UpdateTask(ctx context.Context, id string, patch TaskPatch) error
	// TransitionTask moves a task from one status to another and applies
	// the patch in the same step. It returns false without error when the
	// task is no longer in the from status, which makes the caller's
	// check-then-act safe under concurrent dispatchers.
	TransitionTask(ctx context.Context, id string, from, to TaskStatus, patch TaskPatch) (bool, error)
	// NextQueuedTask returns the oldest queued task in the coordinator,
	// most urgent priority first, or nil when the queue is empty.
	NextQueuedTask(ctx context.Context, coordinator string) (*Task, error)
	// ActiveTasks returns every task in a non-terminal status.
	ActiveTasks(ctx context.Context) ([]*Task, error)
}

// AgentStateStore persists mutable agent state between restarts.
type AgentStateStore interface {
	RegisterAgent(ctx context.Context, st *AgentState) error
	GetAgentState(ctx context.Context, id string) (*AgentState, error)
	UpdateAgentState(ctx context.Context, id string, patch AgentStatePatch) error
	AllAgentStates(ctx context.Context) ([]*AgentState, error)
}
