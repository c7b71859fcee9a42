package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// ErrPipelineNotFound is returned for unknown execution ids.
var ErrPipelineNotFound = errors.New("pipeline execution not found")

const defaultPipelineTimeout = 10 * time.Minute

// Templates returns the built-in pipeline definitions keyed by name.
// Callers get fresh copies; mutating one does not affect the catalog.
func Templates() map[string]*swarm.PipelineDefinition {
	return map[string]*swarm.PipelineDefinition{
		"research_and_summarize": {
			Name:        "research_and_summarize",
			InitialStep: "research",
			Priority:    swarm.PriorityNormal,
			Steps: []swarm.PipelineStep{
				{
					ID:        "research",
					TaskType:  "research",
					OnSuccess: "summarize",
				},
				{
					ID:       "summarize",
					TaskType: "summarize",
				},
			},
		},
		"code_review_cycle": {
			Name:        "code_review_cycle",
			InitialStep: "generate",
			Priority:    swarm.PriorityHigh,
			Steps: []swarm.PipelineStep{
				{
					ID:        "generate",
					TaskType:  "code_generation",
					OnSuccess: "review",
				},
				{
					ID:        "review",
					TaskType:  "code_review",
					OnSuccess: "done",
					OnFailure: "generate",
				},
				{
					ID:       "done",
					Terminal: true,
				},
			},
		},
	}
}

// Template returns a copy of one built-in pipeline definition.
func Template(name string) (*swarm.PipelineDefinition, bool) {
	def, ok := Templates()[name]
	return def, ok
}

// RunPipeline validates the definition, records a running execution,
// and walks the step graph in the background. Returns the execution id.
func (o *Orchestrator) RunPipeline(ctx context.Context, def *swarm.PipelineDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("invalid pipeline: %w", err)
	}
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultPipelineTimeout
	}

	exec := &swarm.PipelineExecution{
		ID:             uuid.NewString(),
		Name:           def.Name,
		CurrentStep:    def.InitialStep,
		CompletedSteps: []string{},
		StepResults:    make(map[string]map[string]any),
		Status:         swarm.PipelineRunning,
		StartedAt:      time.Now(),
	}
	walkCtx, cancel := context.WithTimeout(context.Background(), timeout)

	o.pipeMu.Lock()
	o.pipelines[exec.ID] = exec
	o.pipeCancels[exec.ID] = cancel
	o.pipeMu.Unlock()

	o.logger.Info("pipeline started",
		zap.String("pipeline", exec.ID),
		zap.String("name", def.Name),
		zap.Duration("timeout", timeout))
	go o.walkPipeline(walkCtx, def, exec.ID)
	return exec.ID, nil
}

// walkPipeline follows success/failure edges from the initial step
// until a terminal edge, a sentinel step, the step budget, or the
// pipeline deadline ends it.
func (o *Orchestrator) walkPipeline(ctx context.Context, def *swarm.PipelineDefinition, execID string) {
	stepID := def.InitialStep
	for remaining := o.maxPipelineSteps; ; remaining-- {
		if o.pipelineStatus(execID) != swarm.PipelineRunning {
			return
		}
		if remaining <= 0 {
			o.finishPipeline(execID, swarm.PipelineFailed,
				fmt.Sprintf("step budget of %d exceeded", o.maxPipelineSteps))
			return
		}
		step, ok := def.Step(stepID)
		if !ok {
			o.finishPipeline(execID, swarm.PipelineFailed, fmt.Sprintf("step %q not defined", stepID))
			return
		}
		if step.Sentinel() {
			o.finishPipeline(execID, swarm.PipelineCompleted, "")
			return
		}

		o.setPipelineStep(execID, stepID)
		taskID, err := o.SubmitTask(ctx, SubmitRequest{
			Type:     step.TaskType,
			Input:    step.Input,
			Priority: &def.Priority,
		})
		if err != nil {
			o.finishPipeline(execID, swarm.PipelineFailed,
				fmt.Sprintf("step %q submission: %v", stepID, err))
			return
		}

		t, err := o.awaitTask(ctx, taskID)
		if err != nil {
			o.finishPipeline(execID, swarm.PipelineFailed,
				fmt.Sprintf("step %q: %v", stepID, err))
			return
		}

		o.recordStepResult(execID, stepID, t)
		if t.Status == swarm.TaskCompleted {
			if step.OnSuccess == "" {
				o.finishPipeline(execID, swarm.PipelineCompleted, "")
				return
			}
			stepID = step.OnSuccess
			continue
		}
		if step.OnFailure == "" {
			reason := t.Error
			if reason == "" {
				reason = fmt.Sprintf("step %q task %s", stepID, t.Status)
			}
			o.finishPipeline(execID, swarm.PipelineFailed, reason)
			return
		}
		stepID = step.OnFailure
	}
}

// awaitTask polls a task until it reaches a terminal status or the
// pipeline deadline expires.
func (o *Orchestrator) awaitTask(ctx context.Context, taskID string) (*swarm.Task, error) {
	ticker := time.NewTicker(o.stepPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
			t, err := o.tasks.GetTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
			if t.Status.IsTerminal() {
				return t, nil
			}
		}
	}
}

// GetPipelineStatus returns a copy of one execution's state.
func (o *Orchestrator) GetPipelineStatus(id string) (*swarm.PipelineExecution, error) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	exec, ok := o.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return copyExecution(exec), nil
}

// ActivePipelines returns copies of every running execution.
func (o *Orchestrator) ActivePipelines() []*swarm.PipelineExecution {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	running := make([]*swarm.PipelineExecution, 0)
	for _, exec := range o.pipelines {
		if exec.Status == swarm.PipelineRunning {
			running = append(running, copyExecution(exec))
		}
	}
	return running
}

func (o *Orchestrator) pipelineStatus(id string) swarm.PipelineStatus {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	if exec, ok := o.pipelines[id]; ok {
		return exec.Status
	}
	return swarm.PipelineCancelled
}

func (o *Orchestrator) setPipelineStep(id, stepID string) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	if exec, ok := o.pipelines[id]; ok {
		exec.CurrentStep = stepID
	}
}

// recordStepResult appends the visited step and stores its output.
// Sentinel steps never reach here, so they never appear in
// CompletedSteps.
func (o *Orchestrator) recordStepResult(id, stepID string, t *swarm.Task) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	exec, ok := o.pipelines[id]
	if !ok {
		return
	}
	exec.CompletedSteps = append(exec.CompletedSteps, stepID)
	if t.Status == swarm.TaskCompleted {
		exec.StepResults[stepID] = t.Output
	} else {
		exec.StepResults[stepID] = map[string]any{"error": t.Error, "status": string(t.Status)}
	}
}

func (o *Orchestrator) finishPipeline(id string, status swarm.PipelineStatus, errMsg string) {
	now := time.Now()
	o.pipeMu.Lock()
	exec, ok := o.pipelines[id]
	if ok && exec.Status == swarm.PipelineRunning {
		exec.Status = status
		exec.Error = errMsg
		exec.CurrentStep = ""
		exec.CompletedAt = &now
	}
	if cancel, has := o.pipeCancels[id]; has {
		cancel()
		delete(o.pipeCancels, id)
	}
	o.pipeMu.Unlock()
	if !ok {
		return
	}

	o.mx.PipelineFinished(status)
	if status == swarm.PipelineCompleted {
		o.logger.Info("pipeline completed", zap.String("pipeline", id))
		return
	}
	o.logger.Warn("pipeline finished",
		zap.String("pipeline", id),
		zap.String("status", string(status)),
		zap.String("error", errMsg))
}

func copyExecution(exec *swarm.PipelineExecution) *swarm.PipelineExecution {
	out := *exec
	out.CompletedSteps = append([]string(nil), exec.CompletedSteps...)
	out.StepResults = make(map[string]map[string]any, len(exec.StepResults))
	for k, v := range exec.StepResults {
		out.StepResults[k] = v
	}
	return &out
}
