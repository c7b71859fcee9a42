package swarm

import "time"

// AgentStatus is an agent's runtime state.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentProcessing AgentStatus = "processing"
	AgentError      AgentStatus = "error"
	AgentPaused     AgentStatus = "paused"
	AgentTerminated AgentStatus = "terminated"
)

// Dispatchable reports whether an agent in this status may receive work.
func (s AgentStatus) Dispatchable() bool {
	return s != AgentTerminated && s != AgentPaused
}

// AgentConfig is the immutable registration record of an agent.
type AgentConfig struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Role              string        `json:"role"`
	Coordinator       string        `json:"coordinator"`
	Capabilities      []string      `json:"capabilities,omitempty"`
	MaxConcurrent     int           `json:"max_concurrent"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	TaskTimeout       time.Duration `json:"task_timeout"`
}

// AgentState is the mutable, externally persisted side of an agent.
// Invariant: Status == processing implies CurrentTaskID != ""; every
// other status implies it is empty.
type AgentState struct {
	AgentID        string      `json:"agent_id"`
	Name           string      `json:"name"`
	Role           string      `json:"role"`
	Coordinator    string      `json:"coordinator"`
	Status         AgentStatus `json:"status"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
	TasksFailed    int         `json:"tasks_failed"`
	TokensUsed     int         `json:"tokens_used"`
	LastError      string      `json:"last_error,omitempty"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	StartedAt      time.Time   `json:"started_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AgentStatePatch is a partial update to a persisted agent state.
type AgentStatePatch struct {
	Status         *AgentStatus
	CurrentTaskID  *string
	TasksCompleted *int
	TasksFailed    *int
	TokensUsed     *int
	LastError      *string
	LastHeartbeat  *time.Time
}

// CoordinatorConfig names an agent pool and bounds its parallelism.
type CoordinatorConfig struct {
	Name        string `json:"name"`
	MaxParallel int    `json:"max_parallel"`
}
