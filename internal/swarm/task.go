package swarm

import "time"

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal returns true for statuses a task never leaves.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the edge s → to is part of the task
// state machine. The only backward edge is processing → queued, taken
// when a failed attempt still has retry budget left.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskQueued:
		return to == TaskAssigned || to == TaskCancelled
	case TaskAssigned:
		return to == TaskProcessing || to == TaskCancelled
	case TaskProcessing:
		return to == TaskCompleted || to == TaskFailed || to == TaskCancelled || to == TaskQueued
	default:
		return false
	}
}

// Priority orders tasks within a coordinator's queue. Lower is more urgent.
type Priority int

const (
	PriorityEmergency  Priority = 0
	PriorityHigh       Priority = 1
	PriorityNormal     Priority = 2
	PriorityBackground Priority = 3
)

// Valid reports whether p is within the accepted 0..3 range.
func (p Priority) Valid() bool {
	return p >= PriorityEmergency && p <= PriorityBackground
}

// Task is one unit of routed work with a strict lifecycle and retry budget.
type Task struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Priority      Priority       `json:"priority"`
	Coordinator   string         `json:"coordinator"`
	AssignedAgent string         `json:"assigned_agent,omitempty"`
	ParentTaskID  string         `json:"parent_task_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	Timeout       time.Duration  `json:"timeout"`
	Error         string         `json:"error,omitempty"`
	Status        TaskStatus     `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// TaskPatch is a partial update applied to a task record. Nil fields
// are left untouched.
type TaskPatch struct {
	AssignedAgent *string
	Output        map[string]any
	RetryCount    *int
	Error         *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// TaskPayload is what an agent's processor receives for one execution.
type TaskPayload struct {
	TaskID       string         `json:"task_id"`
	TaskType     string         `json:"task_type"`
	Priority     Priority       `json:"priority"`
	Input        map[string]any `json:"input,omitempty"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	Timeout      time.Duration  `json:"timeout"`
}

// FollowUpTask is a new task requested by a successfully completed one.
type FollowUpTask struct {
	Type     string         `json:"type"`
	Input    map[string]any `json:"input,omitempty"`
	Priority *Priority      `json:"priority,omitempty"`
}

// ResultMetrics carries per-execution measurements reported by a processor.
type ResultMetrics struct {
	TokensUsed int    `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
}

// TaskResult is the structured outcome of one execution attempt.
// Agents always return a result; processor errors are folded into it.
type TaskResult struct {
	Success       bool           `json:"success"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	FollowUpTasks []FollowUpTask `json:"follow_up_tasks,omitempty"`
	Metrics       *ResultMetrics `json:"metrics,omitempty"`
}
