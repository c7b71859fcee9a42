package swarm

import (
	"fmt"
	"time"
)

// PipelineStep is one node of a pipeline graph. OnSuccess and OnFailure
// name the next step for each outcome; an empty pointer ends the
// pipeline with that outcome. A step with Terminal set (or an empty
// task type) is a non-executing sentinel: reaching it completes the
// pipeline without submitting a task.
type PipelineStep struct {
	ID        string         `json:"step_id"`
	TaskType  string         `json:"task_type"`
	Input     map[string]any `json:"input,omitempty"`
	OnSuccess string         `json:"on_success,omitempty"`
	OnFailure string         `json:"on_failure,omitempty"`
	Terminal  bool           `json:"terminal,omitempty"`
}

// Sentinel reports whether the step ends the pipeline instead of
// running a task.
func (s *PipelineStep) Sentinel() bool {
	return s.Terminal || s.TaskType == ""
}

// PipelineDefinition is a named graph of task types chained by
// success/failure edges. Back-edges are allowed (retry loops); the
// engine bounds total steps at runtime.
type PipelineDefinition struct {
	Name        string         `json:"name"`
	Steps       []PipelineStep `json:"steps"`
	InitialStep string         `json:"initial_step"`
	Priority    Priority       `json:"priority"`
	Timeout     time.Duration  `json:"timeout"`
}

// Step returns the step with the given id.
func (d *PipelineDefinition) Step(id string) (*PipelineStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// Validate checks the graph before execution: a known initial step,
// unique step ids, and no edge pointing at an undefined step.
func (d *PipelineDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("pipeline %q has a step without an id", d.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("pipeline %q has duplicate step %q", d.Name, s.ID)
		}
		seen[s.ID] = true
	}
	if !seen[d.InitialStep] {
		return fmt.Errorf("pipeline %q initial step %q is not defined", d.Name, d.InitialStep)
	}
	for _, s := range d.Steps {
		for _, ref := range []string{s.OnSuccess, s.OnFailure} {
			if ref != "" && !seen[ref] {
				return fmt.Errorf("pipeline %q step %q references undefined step %q", d.Name, s.ID, ref)
			}
		}
	}
	return nil
}

// PipelineStatus tracks a running execution.
type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineCancelled PipelineStatus = "cancelled"
)

// PipelineExecution is the runtime instance of one pipeline walk.
// CompletedSteps lists step ids in visitation order and may repeat a
// step revisited through an OnFailure back-edge.
type PipelineExecution struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	CurrentStep    string                    `json:"current_step,omitempty"`
	CompletedSteps []string                  `json:"completed_steps"`
	StepResults    map[string]map[string]any `json:"step_results,omitempty"`
	Status         PipelineStatus            `json:"status"`
	Error          string                    `json:"error,omitempty"`
	StartedAt      time.Time                 `json:"started_at"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
}
