// Package orchestrator routes tasks to agents, drives the dispatch
// poll loop, and executes multi-step pipelines.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/agent"
	"github.com/nyx-labs/swarmd/internal/metrics"
	"github.com/nyx-labs/swarmd/internal/swarm"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultStepPollInterval = 250 * time.Millisecond
	defaultMaxPipelineSteps = 50
	defaultTaskTimeout      = 5 * time.Minute
	defaultMaxRetries       = 3
	defaultMaxParallel      = 4
)

// Options tune the orchestrator. Zero values fall back to defaults.
type Options struct {
	// PollInterval is the dispatch/stuck-scan loop period.
	PollInterval time.Duration
	// StepPollInterval is how often a pipeline walk re-reads its step task.
	StepPollInterval time.Duration
	// MaxPipelineSteps bounds one execution's total visited steps, which
	// keeps cyclic onFailure/onSuccess graphs from looping forever.
	MaxPipelineSteps int
	// DefaultTaskTimeout applies to submissions without an explicit timeout.
	DefaultTaskTimeout time.Duration
	// DefaultMaxRetries applies to submissions without an explicit budget.
	DefaultMaxRetries int
	// Coordinators seeds the pool table. Agents registered under unknown
	// coordinators add them implicitly with the default parallelism.
	Coordinators []swarm.CoordinatorConfig
}

// Stats counts terminal task outcomes and broadcasts since start.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Broadcasts int64 `json:"broadcasts"`
}

// Status is the full orchestrator snapshot returned by GetStatus.
type Status struct {
	Agents          []*swarm.AgentState        `json:"agents"`
	Stats           Stats                      `json:"stats"`
	ActivePipelines []*swarm.PipelineExecution `json:"active_pipelines"`
	Coordinators    []swarm.CoordinatorConfig  `json:"coordinators"`
}

// Orchestrator is the single scheduler instance: agent registry,
// routing table, per-task cancellation handles, active pipelines, and
// the polling loop. Construct one per process and inject it.
type Orchestrator struct {
	tasks  swarm.TaskStore
	states swarm.AgentStateStore
	bus    swarm.MessageBus
	routes *swarm.RoutingTable
	mx     *metrics.Metrics
	logger *zap.Logger

	pollInterval     time.Duration
	stepPollInterval time.Duration
	maxPipelineSteps int
	defaultTimeout   time.Duration
	defaultRetries   int

	mu           sync.RWMutex
	agents       map[string]*agent.Agent
	coordinators map[string]swarm.CoordinatorConfig

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	pipeMu      sync.Mutex
	pipelines   map[string]*swarm.PipelineExecution
	pipeCancels map[string]context.CancelFunc

	submitted  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	broadcasts atomic.Int64

	runMu    sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}
}

// New creates an orchestrator around the given stores and routing table.
func New(tasks swarm.TaskStore, states swarm.AgentStateStore, bus swarm.MessageBus, routes *swarm.RoutingTable, mx *metrics.Metrics, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StepPollInterval <= 0 {
		opts.StepPollInterval = defaultStepPollInterval
	}
	if opts.MaxPipelineSteps <= 0 {
		opts.MaxPipelineSteps = defaultMaxPipelineSteps
	}
	if opts.DefaultTaskTimeout <= 0 {
		opts.DefaultTaskTimeout = defaultTaskTimeout
	}
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = defaultMaxRetries
	}
	coordinators := make(map[string]swarm.CoordinatorConfig)
	pools := opts.Coordinators
	if len(pools) == 0 {
		pools = swarm.DefaultCoordinators()
	}
	for _, c := range pools {
		if c.MaxParallel <= 0 {
			c.MaxParallel = defaultMaxParallel
		}
		coordinators[c.Name] = c
	}
	return &Orchestrator{
		tasks:            tasks,
		states:           states,
		bus:              bus,
		routes:           routes,
		mx:               mx,
		logger:           logger,
		pollInterval:     opts.PollInterval,
		stepPollInterval: opts.StepPollInterval,
		maxPipelineSteps: opts.MaxPipelineSteps,
		defaultTimeout:   opts.DefaultTaskTimeout,
		defaultRetries:   opts.DefaultMaxRetries,
		agents:           make(map[string]*agent.Agent),
		coordinators:     coordinators,
		cancels:          make(map[string]context.CancelFunc),
		pipelines:        make(map[string]*swarm.PipelineExecution),
		pipeCancels:      make(map[string]context.CancelFunc),
	}
}

// RegisterAgent adds an agent handle to the registry and persists its
// initial state. Agents under unknown coordinators add the pool with
// the default parallelism budget.
func (o *Orchestrator) RegisterAgent(ctx context.Context, a *agent.Agent) error {
	o.mu.Lock()
	o.agents[a.ID()] = a
	if _, ok := o.coordinators[a.Coordinator()]; !ok {
		o.coordinators[a.Coordinator()] = swarm.CoordinatorConfig{
			Name:        a.Coordinator(),
			MaxParallel: defaultMaxParallel,
		}
	}
	o.mu.Unlock()

	if err := o.states.RegisterAgent(ctx, a.State()); err != nil {
		return err
	}
	o.logger.Info("agent registered",
		zap.String("agent", a.ID()),
		zap.String("role", a.Role()),
		zap.String("coordinator", a.Coordinator()))
	return nil
}

// Task returns one task record.
func (o *Orchestrator) Task(ctx context.Context, id string) (*swarm.Task, error) {
	return o.tasks.GetTask(ctx, id)
}

// Agent returns a registered agent handle.
func (o *Orchestrator) Agent(id string) (*agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[id]
	return a, ok
}

// Start launches the polling loop. Starting twice is a no-op.
func (o *Orchestrator) Start() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.loopStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.loopStop = cancel
	o.loopDone = make(chan struct{})
	go o.loop(ctx)
	o.logger.Info("orchestrator started", zap.Duration("poll_interval", o.pollInterval))
}

// Stop halts the polling loop. In-flight task executions keep running
// to their own terminal states.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.loopStop == nil {
		return
	}
	o.loopStop()
	<-o.loopDone
	o.loopStop = nil
	o.logger.Info("orchestrator stopped")
}

// StartAllAgents starts every registered agent.
func (o *Orchestrator) StartAllAgents(ctx context.Context) {
	for _, a := range o.agentList() {
		if err := a.Start(ctx); err != nil {
			o.logger.Warn("agent start failed", zap.String("agent", a.ID()), zap.Error(err))
		}
	}
}

// StopAllAgents terminates every registered agent.
func (o *Orchestrator) StopAllAgents(ctx context.Context) {
	for _, a := range o.agentList() {
		a.Stop(ctx)
	}
}

// BroadcastMessage fans a coordination message out to agents.
// A non-empty coordinator restricts delivery to exactly that pool's
// agents, regardless of role or status; a non-empty status narrows it
// further. Returns the number of recipients.
func (o *Orchestrator) BroadcastMessage(ctx context.Context, content, coordinator string, status swarm.AgentStatus) (int, error) {
	sent := 0
	for _, a := range o.agentList() {
		if coordinator != "" && a.Coordinator() != coordinator {
			continue
		}
		if status != "" && a.Status() != status {
			continue
		}
		msg := &swarm.Message{
			From:     "orchestrator",
			To:       a.ID(),
			Type:     swarm.MessageCoordination,
			Payload:  map[string]any{"message": content},
			Priority: swarm.PriorityHigh,
		}
		if err := o.bus.Send(ctx, msg); err != nil {
			o.logger.Warn("broadcast delivery failed", zap.String("agent", a.ID()), zap.Error(err))
			continue
		}
		sent++
	}
	o.broadcasts.Add(1)
	o.mx.BroadcastSent()
	o.logger.Info("broadcast sent",
		zap.String("coordinator", coordinator),
		zap.Int("recipients", sent))
	return sent, nil
}

// EmergencyShutdown stops the poll loop, cancels every active task and
// running pipeline, and terminates all agents.
func (o *Orchestrator) EmergencyShutdown(ctx context.Context) error {
	o.logger.Warn("emergency shutdown initiated")
	o.Stop()

	active, err := o.tasks.ActiveTasks(ctx)
	if err != nil {
		o.logger.Error("emergency shutdown: listing active tasks failed", zap.Error(err))
	}
	for _, t := range active {
		if cancelErr := o.CancelTask(ctx, t.ID, "emergency shutdown"); cancelErr != nil {
			o.logger.Warn("emergency shutdown: task cancel failed",
				zap.String("task", t.ID), zap.Error(cancelErr))
		}
	}

	o.pipeMu.Lock()
	for id, exec := range o.pipelines {
		if exec.Status == swarm.PipelineRunning {
			now := time.Now()
			exec.Status = swarm.PipelineCancelled
			exec.Error = "emergency shutdown"
			exec.CompletedAt = &now
		}
		if cancel, ok := o.pipeCancels[id]; ok {
			cancel()
			delete(o.pipeCancels, id)
		}
	}
	o.pipeMu.Unlock()

	o.StopAllAgents(ctx)
	o.logger.Warn("emergency shutdown complete")
	return err
}

// GetStatus snapshots agents, stats, active pipelines, and coordinators.
func (o *Orchestrator) GetStatus() *Status {
	agents := o.agentList()
	states := make([]*swarm.AgentState, 0, len(agents))
	for _, a := range agents {
		states = append(states, a.State())
	}
	o.mu.RLock()
	coordinators := make([]swarm.CoordinatorConfig, 0, len(o.coordinators))
	for _, c := range o.coordinators {
		coordinators = append(coordinators, c)
	}
	o.mu.RUnlock()
	return &Status{
		Agents:          states,
		Stats:           o.statsSnapshot(),
		ActivePipelines: o.ActivePipelines(),
		Coordinators:    coordinators,
	}
}

func (o *Orchestrator) statsSnapshot() Stats {
	return Stats{
		Submitted:  o.submitted.Load(),
		Completed:  o.completed.Load(),
		Failed:     o.failed.Load(),
		Cancelled:  o.cancelled.Load(),
		Broadcasts: o.broadcasts.Load(),
	}
}

func (o *Orchestrator) agentList() []*agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agents := make([]*agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	return agents
}

func (o *Orchestrator) coordinatorNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.coordinators))
	for name := range o.coordinators {
		names = append(names, name)
	}
	return names
}

func (o *Orchestrator) maxParallel(coordinator string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.coordinators[coordinator]; ok {
		return c.MaxParallel
	}
	return defaultMaxParallel
}
