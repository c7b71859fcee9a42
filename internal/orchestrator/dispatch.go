package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/agent"
	"github.com/nyx-labs/swarmd/internal/swarm"
)

// SubmitRequest describes a task submission. Zero-value optional
// fields take orchestrator defaults.
type SubmitRequest struct {
	Type         string
	Input        map[string]any
	Priority     *swarm.Priority
	TargetAgent  string
	ParentTaskID string
	Timeout      time.Duration
	MaxRetries   *int
}

// SubmitTask routes a request through the routing table, persists the
// queued task, and attempts an immediate dispatch when a target agent
// was named. Returns the new task id.
func (o *Orchestrator) SubmitTask(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Type == "" {
		return "", fmt.Errorf("task type is required")
	}
	route := o.routes.Resolve(req.Type)

	priority := swarm.PriorityNormal
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return "", fmt.Errorf("invalid priority %d", *req.Priority)
		}
		priority = *req.Priority
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	maxRetries := o.defaultRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return "", fmt.Errorf("max retries cannot be negative")
		}
		maxRetries = *req.MaxRetries
	}

	t := &swarm.Task{
		ID:            uuid.NewString(),
		Type:          req.Type,
		Priority:      priority,
		Coordinator:   route.Coordinator,
		AssignedAgent: req.TargetAgent,
		ParentTaskID:  req.ParentTaskID,
		Input:         req.Input,
		MaxRetries:    maxRetries,
		Timeout:       timeout,
		Status:        swarm.TaskQueued,
		CreatedAt:     time.Now(),
	}
	if err := o.tasks.CreateTask(ctx, t); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	o.submitted.Add(1)
	o.mx.TaskSubmitted(t.Coordinator)
	o.logger.Info("task submitted",
		zap.String("task", t.ID),
		zap.String("type", t.Type),
		zap.String("coordinator", t.Coordinator),
		zap.Int("priority", int(t.Priority)))

	if req.TargetAgent != "" {
		if _, err := o.DispatchTask(ctx, t.ID); err != nil {
			o.logger.Warn("immediate dispatch failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
	return t.ID, nil
}

// DispatchTask tries to hand a queued task to an agent. It returns
// false without error when nothing is wrong but the task cannot run
// yet: the pool is at its parallelism budget, no suitable agent is
// free, or another dispatcher won the assignment race. The task stays
// queued for the next poll tick.
func (o *Orchestrator) DispatchTask(ctx context.Context, taskID string) (bool, error) {
	t, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if t.Status != swarm.TaskQueued {
		return false, nil
	}

	running, err := o.runningCount(ctx, t.Coordinator)
	if err != nil {
		return false, fmt.Errorf("count running tasks: %w", err)
	}
	if running >= o.maxParallel(t.Coordinator) {
		return false, nil
	}

	ag := o.selectAgent(t)
	if ag == nil {
		return false, nil
	}

	now := time.Now()
	agentID := ag.ID()
	ok, err := o.tasks.TransitionTask(ctx, t.ID, swarm.TaskQueued, swarm.TaskAssigned, swarm.TaskPatch{
		AssignedAgent: &agentID,
		StartedAt:     &now,
	})
	if err != nil {
		return false, fmt.Errorf("assign task: %w", err)
	}
	if !ok {
		return false, nil
	}
	t.AssignedAgent = agentID
	t.StartedAt = &now

	taskCtx, cancel := context.WithCancel(context.Background())
	o.cancelMu.Lock()
	o.cancels[t.ID] = cancel
	o.cancelMu.Unlock()

	o.logger.Info("task dispatched",
		zap.String("task", t.ID),
		zap.String("type", t.Type),
		zap.String("agent", agentID))
	go o.executeTask(taskCtx, t, ag)
	return true, nil
}

// selectAgent picks the agent for a queued task. Order: the named
// target agent, an idle agent with the route's preferred role, any
// dispatchable agent with that role, then any idle agent in the task's
// coordinator. Nil when nothing fits; the task stays queued.
func (o *Orchestrator) selectAgent(t *swarm.Task) *agent.Agent {
	if t.AssignedAgent != "" {
		if a, ok := o.Agent(t.AssignedAgent); ok && a.Status() != swarm.AgentTerminated {
			return a
		}
		return nil
	}

	role := o.routes.Resolve(t.Type).PreferredRole
	agents := o.agentList()

	if role != "" {
		for _, a := range agents {
			if a.Role() == role && a.Status() == swarm.AgentIdle {
				return a
			}
		}
		for _, a := range agents {
			if a.Role() == role && a.Status().Dispatchable() {
				return a
			}
		}
	}
	for _, a := range agents {
		if a.Coordinator() == t.Coordinator && a.Status() == swarm.AgentIdle {
			return a
		}
	}
	return nil
}

// executeTask walks one attempt through processing to a terminal
// status or back to queued on a retryable failure.
func (o *Orchestrator) executeTask(ctx context.Context, t *swarm.Task, ag *agent.Agent) {
	defer func() {
		o.cancelMu.Lock()
		if cancel, ok := o.cancels[t.ID]; ok {
			cancel()
			delete(o.cancels, t.ID)
		}
		o.cancelMu.Unlock()
	}()

	// The task stays assigned until the agent's execution slot is
	// free, so a task parked behind a busy agent is never reported as
	// processing and the stuck scan cannot touch it.
	res := ag.Execute(ctx, &swarm.TaskPayload{
		TaskID:       t.ID,
		TaskType:     t.Type,
		Priority:     t.Priority,
		Input:        t.Input,
		ParentTaskID: t.ParentTaskID,
		Timeout:      t.Timeout,
	}, func(beginCtx context.Context) bool {
		now := time.Now()
		ok, err := o.tasks.TransitionTask(beginCtx, t.ID, swarm.TaskAssigned, swarm.TaskProcessing, swarm.TaskPatch{
			StartedAt: &now,
		})
		if err != nil {
			o.logger.Error("start processing failed", zap.String("task", t.ID), zap.Error(err))
			return false
		}
		return ok
	})
	if res == nil {
		// Cancelled between assignment and pickup.
		return
	}

	if res.Success {
		o.completeTask(ctx, t, ag, res)
		return
	}
	o.failAttempt(ctx, t, ag, res.Error)
}

func (o *Orchestrator) completeTask(ctx context.Context, t *swarm.Task, ag *agent.Agent, res *swarm.TaskResult) {
	now := time.Now()
	ok, err := o.tasks.TransitionTask(ctx, t.ID, swarm.TaskProcessing, swarm.TaskCompleted, swarm.TaskPatch{
		Output:      res.Output,
		CompletedAt: &now,
	})
	if err != nil {
		o.logger.Error("complete task failed", zap.String("task", t.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	ag.RecordCompletion(ctx)
	o.completed.Add(1)
	duration := now.Sub(t.CreatedAt)
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}
	o.mx.TaskCompleted(t.Coordinator, t.Type, duration)
	o.logger.Info("task completed",
		zap.String("task", t.ID),
		zap.String("agent", ag.ID()),
		zap.Duration("duration", duration))

	for _, follow := range res.FollowUpTasks {
		if _, err := o.SubmitTask(ctx, SubmitRequest{
			Type:         follow.Type,
			Input:        follow.Input,
			Priority:     follow.Priority,
			ParentTaskID: t.ID,
		}); err != nil {
			o.logger.Warn("follow-up submission failed",
				zap.String("parent", t.ID),
				zap.String("type", follow.Type),
				zap.Error(err))
		}
	}
}

// failAttempt either requeues the task with its retry count bumped or,
// when the budget is spent, marks it failed. The count increases on
// every failed attempt including the terminal one.
func (o *Orchestrator) failAttempt(ctx context.Context, t *swarm.Task, ag *agent.Agent, reason string) {
	attempts := t.RetryCount + 1
	if t.RetryCount < t.MaxRetries {
		cleared := ""
		ok, err := o.tasks.TransitionTask(ctx, t.ID, swarm.TaskProcessing, swarm.TaskQueued, swarm.TaskPatch{
			RetryCount:    &attempts,
			AssignedAgent: &cleared,
			Error:         &reason,
		})
		if err != nil {
			o.logger.Error("requeue task failed", zap.String("task", t.ID), zap.Error(err))
			return
		}
		if ok {
			ag.RecordFailure(ctx)
			o.logger.Warn("task attempt failed, requeued",
				zap.String("task", t.ID),
				zap.Int("retry", attempts),
				zap.Int("max_retries", t.MaxRetries),
				zap.String("reason", reason))
		}
		return
	}

	now := time.Now()
	ok, err := o.tasks.TransitionTask(ctx, t.ID, swarm.TaskProcessing, swarm.TaskFailed, swarm.TaskPatch{
		RetryCount:  &attempts,
		Error:       &reason,
		CompletedAt: &now,
	})
	if err != nil {
		o.logger.Error("fail task failed", zap.String("task", t.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	ag.RecordFailure(ctx)
	o.failed.Add(1)
	o.mx.TaskFailed(t.Coordinator)
	o.logger.Error("task failed",
		zap.String("task", t.ID),
		zap.String("agent", ag.ID()),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
}

// CancelTask moves a non-terminal task to cancelled and signals its
// running execution, if any. Cancelling a terminal task is an error.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID, reason string) error {
	t, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := time.Now()
	for {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s is already %s", taskID, t.Status)
		}
		ok, err := o.tasks.TransitionTask(ctx, taskID, t.Status, swarm.TaskCancelled, swarm.TaskPatch{
			Error:       &reason,
			CompletedAt: &now,
		})
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if ok {
			break
		}
		// Lost a race with a concurrent transition; re-read and retry.
		if t, err = o.tasks.GetTask(ctx, taskID); err != nil {
			return err
		}
	}

	o.cancelMu.Lock()
	if cancel, ok := o.cancels[taskID]; ok {
		cancel()
		delete(o.cancels, taskID)
	}
	o.cancelMu.Unlock()

	o.cancelled.Add(1)
	o.mx.TaskCancelled(t.Coordinator)
	o.logger.Info("task cancelled",
		zap.String("task", taskID),
		zap.String("reason", reason))
	return nil
}

// runningCount counts tasks occupying a coordinator's parallelism
// budget: assigned or processing.
func (o *Orchestrator) runningCount(ctx context.Context, coordinator string) (int, error) {
	active, err := o.tasks.ActiveTasks(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range active {
		if t.Coordinator != coordinator {
			continue
		}
		if t.Status == swarm.TaskAssigned || t.Status == swarm.TaskProcessing {
			count++
		}
	}
	return count, nil
}
