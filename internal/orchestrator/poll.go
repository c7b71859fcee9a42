package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// loop runs the periodic dispatch and stuck-task scan until stopped.
func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick dispatches at most one queued task per coordinator, cancels
// stuck tasks, and refreshes the agent gauge.
func (o *Orchestrator) tick(ctx context.Context) {
	for _, name := range o.coordinatorNames() {
		t, err := o.tasks.NextQueuedTask(ctx, name)
		if err != nil {
			o.logger.Warn("queue poll failed", zap.String("coordinator", name), zap.Error(err))
			continue
		}
		if t == nil {
			continue
		}
		if _, err := o.DispatchTask(ctx, t.ID); err != nil {
			o.logger.Warn("dispatch failed", zap.String("task", t.ID), zap.Error(err))
		}
	}

	o.scanStuck(ctx)

	counts := make(map[swarm.AgentStatus]int)
	for _, a := range o.agentList() {
		counts[a.Status()]++
	}
	o.mx.SetAgents(counts)
}

// scanStuck cancels processing tasks whose elapsed time exceeds twice
// their timeout. The processor's own deadline fires at 1x; the scan is
// the backstop for executions that never came back.
func (o *Orchestrator) scanStuck(ctx context.Context) {
	active, err := o.tasks.ActiveTasks(ctx)
	if err != nil {
		o.logger.Warn("stuck scan failed", zap.Error(err))
		return
	}
	now := time.Now()
	for _, t := range active {
		if t.Status != swarm.TaskProcessing || t.StartedAt == nil || t.Timeout <= 0 {
			continue
		}
		elapsed := now.Sub(*t.StartedAt)
		if elapsed <= 2*t.Timeout {
			continue
		}
		o.logger.Warn("stuck task detected",
			zap.String("task", t.ID),
			zap.String("agent", t.AssignedAgent),
			zap.Duration("elapsed", elapsed),
			zap.Duration("timeout", t.Timeout))
		if err := o.CancelTask(ctx, t.ID, "stuck: exceeded 2x timeout"); err != nil {
			o.logger.Warn("stuck task cancel failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
}
