// Package metrics exposes the swarm's operational counters through
// Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// Metrics holds the swarm's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so wiring metrics stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	tasksCancelled *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	agentsByStatus *prometheus.GaugeVec
	pipelines      *prometheus.CounterVec
	broadcasts     prometheus.Counter
}

// New creates and registers the swarm collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmd_tasks_submitted_total",
			Help: "Tasks submitted, by coordinator.",
		}, []string{"coordinator"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmd_tasks_completed_total",
			Help: "Tasks that reached completed, by coordinator.",
		}, []string{"coordinator"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmd_tasks_failed_total",
			Help: "Tasks that exhausted retries, by coordinator.",
		}, []string{"coordinator"}),
		tasksCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmd_tasks_cancelled_total",
			Help: "Tasks cancelled, by coordinator.",
		}, []string{"coordinator"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarmd_task_duration_seconds",
			Help:    "Wall time of completed task executions, by task type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"task_type"}),
		agentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmd_agents",
			Help: "Registered agents, by status.",
		}, []string{"status"}),
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmd_pipelines_total",
			Help: "Finished pipeline executions, by outcome.",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmd_broadcasts_total",
			Help: "Broadcast messages fanned out to agents.",
		}),
	}
	reg.MustRegister(
		m.tasksSubmitted, m.tasksCompleted, m.tasksFailed, m.tasksCancelled,
		m.taskDuration, m.agentsByStatus, m.pipelines, m.broadcasts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskSubmitted records one submitted task.
func (m *Metrics) TaskSubmitted(coordinator string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(coordinator).Inc()
}

// TaskCompleted records one completed task and its duration.
func (m *Metrics) TaskCompleted(coordinator, taskType string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(coordinator).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// TaskFailed records one terminally failed task.
func (m *Metrics) TaskFailed(coordinator string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(coordinator).Inc()
}

// TaskCancelled records one cancelled task.
func (m *Metrics) TaskCancelled(coordinator string) {
	if m == nil {
		return
	}
	m.tasksCancelled.WithLabelValues(coordinator).Inc()
}

// SetAgents replaces the per-status agent gauge with a fresh count.
func (m *Metrics) SetAgents(byStatus map[swarm.AgentStatus]int) {
	if m == nil {
		return
	}
	for _, status := range []swarm.AgentStatus{
		swarm.AgentIdle, swarm.AgentProcessing, swarm.AgentError,
		swarm.AgentPaused, swarm.AgentTerminated,
	} {
		m.agentsByStatus.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
}

// PipelineFinished records one finished pipeline execution.
func (m *Metrics) PipelineFinished(outcome swarm.PipelineStatus) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(string(outcome)).Inc()
}

// BroadcastSent records one broadcast fan-out.
func (m *Metrics) BroadcastSent() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}
