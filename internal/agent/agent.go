package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// Lifecycle errors.
var (
	ErrTerminated = errors.New("agent is terminated")
	ErrNotPaused  = errors.New("agent is not paused")
)

const defaultHeartbeat = 30 * time.Second

// Agent is a long-lived worker: immutable config, a processor doing
// the actual work, and mutable runtime state persisted to the agent
// state store. All lifecycle transitions and executions go through it.
type Agent struct {
	cfg    swarm.AgentConfig
	proc   Processor
	bus    swarm.MessageBus
	states swarm.AgentStateStore
	logger *zap.Logger

	// execMu serializes executions so at most one task is ever
	// processing on this agent at any instant.
	execMu sync.Mutex

	mu            sync.Mutex
	status        swarm.AgentStatus
	currentTaskID string
	completed     int
	failed        int
	tokensUsed    int
	lastError     string
	startedAt     time.Time
	hbCancel      context.CancelFunc
}

// New creates an agent. It is inert until Start is called.
func New(cfg swarm.AgentConfig, proc Processor, bus swarm.MessageBus, states swarm.AgentStateStore, logger *zap.Logger) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	return &Agent{
		cfg:    cfg,
		proc:   proc,
		bus:    bus,
		states: states,
		status: swarm.AgentIdle,
		logger: logger.With(zap.String("agent", cfg.ID)),
	}
}

// ID returns the agent's identity.
func (a *Agent) ID() string { return a.cfg.ID }

// Role returns the agent's role name.
func (a *Agent) Role() string { return a.cfg.Role }

// Coordinator returns the pool the agent belongs to.
func (a *Agent) Coordinator() string { return a.cfg.Coordinator }

// Config returns the immutable registration config.
func (a *Agent) Config() swarm.AgentConfig { return a.cfg }

// Status returns the agent's current runtime status.
func (a *Agent) Status() swarm.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// State snapshots the agent's mutable runtime state.
func (a *Agent) State() *swarm.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Agent) stateLocked() *swarm.AgentState {
	return &swarm.AgentState{
		AgentID:        a.cfg.ID,
		Name:           a.cfg.Name,
		Role:           a.cfg.Role,
		Coordinator:    a.cfg.Coordinator,
		Status:         a.status,
		CurrentTaskID:  a.currentTaskID,
		TasksCompleted: a.completed,
		TasksFailed:    a.failed,
		TokensUsed:     a.tokensUsed,
		LastError:      a.lastError,
		StartedAt:      a.startedAt,
		UpdatedAt:      time.Now(),
	}
}

// Start sets the agent idle and begins its heartbeat timer. Starting
// an already running agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.hbCancel != nil {
		a.mu.Unlock()
		return nil
	}
	a.status = swarm.AgentIdle
	a.currentTaskID = ""
	a.startedAt = time.Now()
	hbCtx, cancel := context.WithCancel(context.Background())
	a.hbCancel = cancel
	st := a.stateLocked()
	a.mu.Unlock()

	if err := a.states.RegisterAgent(ctx, st); err != nil {
		a.logger.Warn("agent state registration failed", zap.Error(err))
	}
	go a.heartbeatLoop(hbCtx)
	a.logger.Info("agent started",
		zap.String("role", a.cfg.Role),
		zap.String("coordinator", a.cfg.Coordinator))
	return nil
}

// Stop cancels the heartbeat and terminates the agent.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	if a.hbCancel != nil {
		a.hbCancel()
		a.hbCancel = nil
	}
	a.status = swarm.AgentTerminated
	a.currentTaskID = ""
	a.mu.Unlock()

	a.persist(ctx)
	a.logger.Info("agent stopped")
}

// Pause suspends the heartbeat without losing identity or counters.
func (a *Agent) Pause(ctx context.Context) error {
	a.mu.Lock()
	if a.status == swarm.AgentTerminated {
		a.mu.Unlock()
		return ErrTerminated
	}
	if a.hbCancel != nil {
		a.hbCancel()
		a.hbCancel = nil
	}
	a.status = swarm.AgentPaused
	a.currentTaskID = ""
	a.mu.Unlock()

	a.persist(ctx)
	a.logger.Info("agent paused")
	return nil
}

// Resume restarts the heartbeat of a paused agent.
func (a *Agent) Resume(ctx context.Context) error {
	a.mu.Lock()
	if a.status != swarm.AgentPaused {
		a.mu.Unlock()
		return ErrNotPaused
	}
	a.status = swarm.AgentIdle
	hbCtx, cancel := context.WithCancel(context.Background())
	a.hbCancel = cancel
	a.mu.Unlock()

	a.persist(ctx)
	go a.heartbeatLoop(hbCtx)
	a.logger.Info("agent resumed")
	return nil
}

// Execute runs one task attempt through the processor. It never
// returns a Go error: processor failures are folded into the result so
// the orchestrator only deals with structured outcomes.
//
// The optional begin hook runs once the execution slot is held, before
// the processor starts. It is the caller's chance to commit the task
// to processing now that the agent is actually free; returning false
// abandons the attempt and Execute returns nil. This keeps a task
// parked behind a busy agent out of the processing state.
func (a *Agent) Execute(ctx context.Context, payload *swarm.TaskPayload, begin func(context.Context) bool) *swarm.TaskResult {
	a.execMu.Lock()
	defer a.execMu.Unlock()

	if begin != nil && !begin(ctx) {
		return nil
	}
	a.setProcessing(ctx, payload.TaskID)
	start := time.Now()

	execCtx := ctx
	if payload.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, payload.Timeout)
		defer cancel()
	}

	res, err := a.proc.ProcessTask(execCtx, payload)
	latency := time.Since(start)

	if err != nil {
		res = &swarm.TaskResult{Success: false, Error: err.Error()}
	} else if res == nil {
		res = &swarm.TaskResult{Success: false, Error: "processor returned no result"}
	}

	if !res.Success {
		a.setError(ctx, res.Error)
		a.logger.Warn("task attempt failed",
			zap.String("task", payload.TaskID),
			zap.Duration("latency", latency),
			zap.String("error", res.Error))
		return res
	}

	tokens := 0
	if res.Metrics != nil {
		tokens = res.Metrics.TokensUsed
	}
	a.setIdle(ctx, tokens)
	a.logger.Info("task processed",
		zap.String("task", payload.TaskID),
		zap.String("type", payload.TaskType),
		zap.Duration("latency", latency),
		zap.Int("tokens", tokens))
	return res
}

// RecordCompletion bumps the completed counter. Called by the
// orchestrator once a task reaches its completed status.
func (a *Agent) RecordCompletion(ctx context.Context) {
	a.mu.Lock()
	a.completed++
	a.mu.Unlock()
	a.persist(ctx)
}

// RecordFailure bumps the failed counter. Called by the orchestrator
// when a task exhausts its retries on this agent.
func (a *Agent) RecordFailure(ctx context.Context) {
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()
	a.persist(ctx)
}

func (a *Agent) setProcessing(ctx context.Context, taskID string) {
	a.mu.Lock()
	a.status = swarm.AgentProcessing
	a.currentTaskID = taskID
	a.mu.Unlock()
	a.persist(ctx)
}

func (a *Agent) setIdle(ctx context.Context, tokens int) {
	a.mu.Lock()
	a.status = swarm.AgentIdle
	a.currentTaskID = ""
	a.lastError = ""
	a.tokensUsed += tokens
	a.mu.Unlock()
	a.persist(ctx)
}

func (a *Agent) setError(ctx context.Context, errMsg string) {
	a.mu.Lock()
	a.status = swarm.AgentError
	a.currentTaskID = ""
	a.lastError = errMsg
	a.mu.Unlock()
	a.persist(ctx)
}

// persist writes the current state snapshot to the state store.
// Persistence failures are logged and swallowed; they never block the
// task state machine.
func (a *Agent) persist(ctx context.Context) {
	st := a.State()
	patch := swarm.AgentStatePatch{
		Status:         &st.Status,
		CurrentTaskID:  &st.CurrentTaskID,
		TasksCompleted: &st.TasksCompleted,
		TasksFailed:    &st.TasksFailed,
		TokensUsed:     &st.TokensUsed,
		LastError:      &st.LastError,
	}
	if err := a.states.UpdateAgentState(ctx, a.cfg.ID, patch); err != nil {
		a.logger.Warn("agent state persist failed", zap.Error(err))
	}
}

// heartbeatLoop reports liveness at the configured interval until its
// context is cancelled. Heartbeat errors never stop the loop.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			patch := swarm.AgentStatePatch{LastHeartbeat: &now}
			if err := a.states.UpdateAgentState(ctx, a.cfg.ID, patch); err != nil {
				a.logger.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			a.mu.Lock()
			uptime := now.Sub(a.startedAt)
			a.mu.Unlock()
			a.logger.Debug("heartbeat", zap.Duration("uptime", uptime))
		}
	}
}
