// Package trigger fires task submissions from schedules, webhooks,
// threshold checks, events, and manual requests.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/orchestrator"
	"github.com/nyx-labs/swarmd/internal/swarm"
)

// Trigger kinds.
type Type string

const (
	TypeSchedule  Type = "schedule"
	TypeWebhook   Type = "webhook"
	TypeThreshold Type = "threshold"
	TypeManual    Type = "manual"
	TypeEvent     Type = "event"
)

const minCooldown = time.Second

var (
	ErrTriggerNotFound = errors.New("trigger not found")
	ErrCoolingDown     = errors.New("trigger is cooling down")
	ErrDisabled        = errors.New("trigger is disabled")
)

// Action is the task a trigger submits when it fires.
type Action struct {
	TaskType string          `json:"task_type"`
	Input    map[string]any  `json:"input,omitempty"`
	Priority *swarm.Priority `json:"priority,omitempty"`
}

// Trigger binds a firing condition to a task submission. Condition
// keys depend on the type: schedules use "cron" or "interval_seconds",
// events use "event", thresholds use "metric", "operator", "value".
type Trigger struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      Type           `json:"type"`
	Condition map[string]any `json:"condition,omitempty"`
	Action    Action         `json:"action"`
	Cooldown  time.Duration  `json:"cooldown"`
	Enabled   bool           `json:"enabled"`
	LastFired *time.Time     `json:"last_fired,omitempty"`
	FireCount int            `json:"fire_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskSubmitter is the slice of the orchestrator triggers need.
type TaskSubmitter interface {
	SubmitTask(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
}

// Engine owns the trigger registry and the schedule runners.
type Engine struct {
	submitter TaskSubmitter
	logger    *zap.Logger

	mu        sync.Mutex
	triggers  map[string]*Trigger
	cronIDs   map[string]cron.EntryID
	intervals map[string]context.CancelFunc
	sched     *cron.Cron
	started   bool
}

// NewEngine creates a stopped engine around the given submitter.
func NewEngine(submitter TaskSubmitter, logger *zap.Logger) *Engine {
	return &Engine{
		submitter: submitter,
		logger:    logger,
		triggers:  make(map[string]*Trigger),
		cronIDs:   make(map[string]cron.EntryID),
		intervals: make(map[string]context.CancelFunc),
		sched:     cron.New(),
	}
}

// Register validates and stores a trigger. Schedule triggers start
// running immediately when the engine is already started.
func (e *Engine) Register(trg *Trigger) (*Trigger, error) {
	if trg.Name == "" {
		return nil, fmt.Errorf("trigger name is required")
	}
	switch trg.Type {
	case TypeSchedule, TypeWebhook, TypeThreshold, TypeManual, TypeEvent:
	default:
		return nil, fmt.Errorf("unknown trigger type %q", trg.Type)
	}
	if trg.Action.TaskType == "" {
		return nil, fmt.Errorf("trigger action task type is required")
	}
	if trg.Cooldown < 0 {
		return nil, fmt.Errorf("trigger cooldown cannot be negative")
	}
	if trg.Cooldown < minCooldown {
		trg.Cooldown = minCooldown
	}
	if trg.Type == TypeSchedule {
		if _, _, err := scheduleCondition(trg.Condition); err != nil {
			return nil, err
		}
	}
	if trg.ID == "" {
		trg.ID = uuid.NewString()
	}
	trg.CreatedAt = time.Now()

	e.mu.Lock()
	e.triggers[trg.ID] = trg
	started := e.started
	e.mu.Unlock()

	if started && trg.Enabled && trg.Type == TypeSchedule {
		if err := e.startSchedule(trg); err != nil {
			return nil, err
		}
	}
	e.logger.Info("trigger registered",
		zap.String("trigger", trg.ID),
		zap.String("name", trg.Name),
		zap.String("type", string(trg.Type)))
	return trg, nil
}

// scheduleCondition extracts a cron expression or an interval from a
// schedule trigger's condition.
func scheduleCondition(cond map[string]any) (expr string, interval time.Duration, err error) {
	if expr, ok := cond["cron"].(string); ok && expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return "", 0, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		return expr, 0, nil
	}
	if secs, ok := cond["interval_seconds"].(float64); ok && secs > 0 {
		return "", time.Duration(secs * float64(time.Second)), nil
	}
	if secs, ok := cond["interval_seconds"].(int); ok && secs > 0 {
		return "", time.Duration(secs) * time.Second, nil
	}
	return "", 0, fmt.Errorf(`schedule trigger needs "cron" or "interval_seconds" in its condition`)
}

// Fire submits the trigger's action task, honoring cooldown. Returns
// the submitted task id.
func (e *Engine) Fire(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	trg, ok := e.triggers[id]
	if !ok {
		e.mu.Unlock()
		return "", ErrTriggerNotFound
	}
	if !trg.Enabled {
		e.mu.Unlock()
		return "", ErrDisabled
	}
	now := time.Now()
	if trg.LastFired != nil && now.Sub(*trg.LastFired) < trg.Cooldown {
		e.mu.Unlock()
		return "", ErrCoolingDown
	}
	trg.LastFired = &now
	trg.FireCount++
	action := trg.Action
	e.mu.Unlock()

	taskID, err := e.submitter.SubmitTask(ctx, orchestrator.SubmitRequest{
		Type:     action.TaskType,
		Input:    action.Input,
		Priority: action.Priority,
	})
	if err != nil {
		return "", fmt.Errorf("trigger %s fire: %w", id, err)
	}
	e.logger.Info("trigger fired",
		zap.String("trigger", id),
		zap.String("task", taskID))
	return taskID, nil
}

// FireEvent fires every enabled event trigger whose condition names
// the event. Returns the submitted task ids.
func (e *Engine) FireEvent(ctx context.Context, event string) []string {
	e.mu.Lock()
	var ids []string
	for id, trg := range e.triggers {
		if trg.Type != TypeEvent || !trg.Enabled {
			continue
		}
		if name, _ := trg.Condition["event"].(string); name == event {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var tasks []string
	for _, id := range ids {
		taskID, err := e.Fire(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrCoolingDown) {
				e.logger.Warn("event trigger fire failed", zap.String("trigger", id), zap.Error(err))
			}
			continue
		}
		tasks = append(tasks, taskID)
	}
	return tasks
}

// CheckThreshold fires enabled threshold triggers matching the metric
// whose comparison holds for the observed value.
func (e *Engine) CheckThreshold(ctx context.Context, metric string, value float64) []string {
	e.mu.Lock()
	var ids []string
	for id, trg := range e.triggers {
		if trg.Type != TypeThreshold || !trg.Enabled {
			continue
		}
		name, _ := trg.Condition["metric"].(string)
		if name != metric {
			continue
		}
		op, _ := trg.Condition["operator"].(string)
		limit, ok := trg.Condition["value"].(float64)
		if !ok {
			continue
		}
		if thresholdHolds(op, value, limit) {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var tasks []string
	for _, id := range ids {
		taskID, err := e.Fire(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrCoolingDown) {
				e.logger.Warn("threshold trigger fire failed", zap.String("trigger", id), zap.Error(err))
			}
			continue
		}
		tasks = append(tasks, taskID)
	}
	return tasks
}

func thresholdHolds(op string, value, limit float64) bool {
	switch op {
	case "gt", ">":
		return value > limit
	case "gte", ">=":
		return value >= limit
	case "lt", "<":
		return value < limit
	case "lte", "<=":
		return value <= limit
	case "eq", "==":
		return value == limit
	default:
		return false
	}
}

// Enable turns a trigger on, starting its schedule if the engine runs.
func (e *Engine) Enable(id string) error {
	e.mu.Lock()
	trg, ok := e.triggers[id]
	if !ok {
		e.mu.Unlock()
		return ErrTriggerNotFound
	}
	trg.Enabled = true
	started := e.started
	e.mu.Unlock()
	if started && trg.Type == TypeSchedule {
		return e.startSchedule(trg)
	}
	return nil
}

// Disable turns a trigger off and stops its schedule.
func (e *Engine) Disable(id string) error {
	e.mu.Lock()
	trg, ok := e.triggers[id]
	if !ok {
		e.mu.Unlock()
		return ErrTriggerNotFound
	}
	trg.Enabled = false
	e.stopScheduleLocked(id)
	e.mu.Unlock()
	return nil
}

// Remove deletes a trigger and stops its schedule.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.triggers[id]; !ok {
		return ErrTriggerNotFound
	}
	e.stopScheduleLocked(id)
	delete(e.triggers, id)
	return nil
}

// Get returns a copy of one trigger.
func (e *Engine) Get(id string) (*Trigger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	trg, ok := e.triggers[id]
	if !ok {
		return nil, ErrTriggerNotFound
	}
	out := *trg
	return &out, nil
}

// List returns copies of every trigger.
func (e *Engine) List() []*Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Trigger, 0, len(e.triggers))
	for _, trg := range e.triggers {
		cp := *trg
		out = append(out, &cp)
	}
	return out
}

// Start launches the cron runner and interval loops for every enabled
// schedule trigger.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	var schedules []*Trigger
	for _, trg := range e.triggers {
		if trg.Type == TypeSchedule && trg.Enabled {
			schedules = append(schedules, trg)
		}
	}
	e.mu.Unlock()

	for _, trg := range schedules {
		if err := e.startSchedule(trg); err != nil {
			return err
		}
	}
	e.sched.Start()
	e.logger.Info("trigger engine started", zap.Int("schedules", len(schedules)))
	return nil
}

// Stop halts the cron runner and all interval loops.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	for id, cancel := range e.intervals {
		cancel()
		delete(e.intervals, id)
	}
	for id := range e.cronIDs {
		e.sched.Remove(e.cronIDs[id])
		delete(e.cronIDs, id)
	}
	e.mu.Unlock()
	<-e.sched.Stop().Done()
	e.logger.Info("trigger engine stopped")
}

func (e *Engine) startSchedule(trg *Trigger) error {
	expr, interval, err := scheduleCondition(trg.Condition)
	if err != nil {
		return err
	}
	id := trg.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if expr != "" {
		if _, has := e.cronIDs[id]; has {
			return nil
		}
		entry, err := e.sched.AddFunc(expr, func() { e.fireScheduled(id) })
		if err != nil {
			return fmt.Errorf("schedule trigger %s: %w", id, err)
		}
		e.cronIDs[id] = entry
		return nil
	}
	if _, has := e.intervals[id]; has {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.intervals[id] = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.fireScheduled(id)
			}
		}
	}()
	return nil
}

func (e *Engine) fireScheduled(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.Fire(ctx, id); err != nil && !errors.Is(err, ErrCoolingDown) && !errors.Is(err, ErrDisabled) {
		e.logger.Warn("scheduled trigger fire failed", zap.String("trigger", id), zap.Error(err))
	}
}

func (e *Engine) stopScheduleLocked(id string) {
	if cancel, ok := e.intervals[id]; ok {
		cancel()
		delete(e.intervals, id)
	}
	if entry, ok := e.cronIDs[id]; ok {
		e.sched.Remove(entry)
		delete(e.cronIDs, id)
	}
}
