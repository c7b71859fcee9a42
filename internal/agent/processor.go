package agent

import (
	"context"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// Processor supplies the actual task logic for one agent kind. The
// surrounding Agent handles lifecycle, state transitions, and metrics;
// implementations only do the work.
type Processor interface {
	ProcessTask(ctx context.Context, payload *swarm.TaskPayload) (*swarm.TaskResult, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, payload *swarm.TaskPayload) (*swarm.TaskResult, error)

// ProcessTask implements Processor.
func (f ProcessorFunc) ProcessTask(ctx context.Context, payload *swarm.TaskPayload) (*swarm.TaskResult, error) {
	return f(ctx, payload)
}

// EchoProcessor is the placeholder processor for roles with no
// registered factory. It reflects the task input back as output, which
// keeps routing and lifecycle testable without real task logic.
type EchoProcessor struct{}

// ProcessTask implements Processor.
func (EchoProcessor) ProcessTask(ctx context.Context, payload *swarm.TaskPayload) (*swarm.TaskResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &swarm.TaskResult{
		Success: true,
		Output: map[string]any{
			"echo":      payload.Input,
			"task_type": payload.TaskType,
		},
	}, nil
}
