// Package api exposes the swarm over HTTP: task submission, agent
// control, pipelines, triggers, shared memory, and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/memory"
	"github.com/nyx-labs/swarmd/internal/metrics"
	"github.com/nyx-labs/swarmd/internal/orchestrator"
	"github.com/nyx-labs/swarmd/internal/swarm"
	"github.com/nyx-labs/swarmd/internal/trigger"
)

const (
	minTimeoutSeconds = 10
	maxTimeoutSeconds = 3600
)

// Handler holds dependencies for HTTP handlers. The memory graph is
// optional; its routes report unavailable when it is nil.
type Handler struct {
	orch     *orchestrator.Orchestrator
	triggers *trigger.Engine
	graph    *memory.Graph
	mx       *metrics.Metrics
	logger   *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(orch *orchestrator.Orchestrator, triggers *trigger.Engine, graph *memory.Graph, mx *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		orch:     orch,
		triggers: triggers,
		graph:    graph,
		mx:       mx,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/swarm", func(r chi.Router) {
			r.Get("/status", h.swarmStatus)
			r.Post("/broadcast", h.sendBroadcast)
			r.Post("/emergency-stop", h.emergencyStop)

			r.Get("/agents", h.listAgents)
			r.Get("/agents/{id}", h.getAgent)
			r.Post("/agents/{id}/start", h.startAgent)
			r.Post("/agents/{id}/stop", h.stopAgent)
			r.Post("/agents/{id}/pause", h.pauseAgent)
			r.Post("/agents/{id}/resume", h.resumeAgent)

			r.Post("/tasks", h.submitTask)
			r.Get("/tasks/{id}", h.getTask)
			r.Post("/tasks/{id}/cancel", h.cancelTask)

			r.Get("/pipelines", h.listPipelines)
			r.Post("/pipelines", h.runPipeline)
			r.Get("/pipelines/{id}", h.getPipeline)

			r.Get("/triggers", h.listTriggers)
			r.Post("/triggers", h.createTrigger)
			r.Post("/triggers/{id}/fire", h.fireTrigger)
			r.Post("/triggers/{id}/enable", h.enableTrigger)
			r.Post("/triggers/{id}/disable", h.disableTrigger)
			r.Delete("/triggers/{id}", h.removeTrigger)

			r.Post("/events", h.publishEvent)
			r.Post("/thresholds", h.reportThreshold)
		})

		r.Route("/memory", func(r chi.Router) {
			r.Post("/entities", h.createEntities)
			r.Post("/search", h.searchMemory)
			r.Post("/nodes", h.openNodes)
		})
	})

	if h.mx != nil {
		r.Handle("/metrics", h.mx.Handler())
	}
	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "swarmd"})
}

func (h *Handler) swarmStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.GetStatus())
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.GetStatus().Agents)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.orch.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a.State())
}

func (h *Handler) startAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.orch.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err := a.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) stopAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.orch.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	a.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) pauseAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.orch.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err := a.Pause(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handler) resumeAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.orch.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err := a.Resume(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type broadcastRequest struct {
	Message     string `json:"message"`
	Coordinator string `json:"coordinator,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	sent, err := h.orch.BroadcastMessage(r.Context(), req.Message, req.Coordinator, swarm.AgentStatus(req.Status))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "broadcast sent", "recipients": sent})
}

func (h *Handler) emergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.EmergencyShutdown(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency stop complete"})
}

type submitTaskRequest struct {
	Type           string         `json:"type"`
	Input          map[string]any `json:"input,omitempty"`
	Priority       *int           `json:"priority,omitempty"`
	TargetAgent    string         `json:"target_agent,omitempty"`
	ParentTaskID   string         `json:"parent_task_id,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"`
}

func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	sub := orchestrator.SubmitRequest{
		Type:         req.Type,
		Input:        req.Input,
		TargetAgent:  req.TargetAgent,
		ParentTaskID: req.ParentTaskID,
		MaxRetries:   req.MaxRetries,
	}
	if req.Priority != nil {
		p := swarm.Priority(*req.Priority)
		if !p.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be between 0 and 3"})
			return
		}
		sub.Priority = &p
	}
	if req.TimeoutSeconds != 0 {
		if req.TimeoutSeconds < minTimeoutSeconds || req.TimeoutSeconds > maxTimeoutSeconds {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timeout_seconds must be between 10 and 3600"})
			return
		}
		sub.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	id, err := h.orch.SubmitTask(r.Context(), sub)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id, "status": "queued"})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.orch.Task(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, swarm.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type cancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelTaskRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}
	if err := h.orch.CancelTask(r.Context(), id, req.Reason); err != nil {
		status := http.StatusConflict
		if errors.Is(err, swarm.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type runPipelineRequest struct {
	Template   string                    `json:"template,omitempty"`
	Definition *swarm.PipelineDefinition `json:"definition,omitempty"`
}

func (h *Handler) runPipeline(w http.ResponseWriter, r *http.Request) {
	var req runPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	def := req.Definition
	if def == nil {
		if req.Template == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "template or definition is required"})
			return
		}
		tpl, ok := orchestrator.Template(req.Template)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pipeline template"})
			return
		}
		def = tpl
	}
	id, err := h.orch.RunPipeline(r.Context(), def)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pipeline_id": id, "status": "running"})
}

func (h *Handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := h.orch.GetPipelineStatus(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handler) listPipelines(w http.ResponseWriter, r *http.Request) {
	templates := make([]string, 0)
	for name := range orchestrator.Templates() {
		templates = append(templates, name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    h.orch.ActivePipelines(),
		"templates": templates,
	})
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.triggers.List())
}

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	var trg trigger.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	created, err := h.triggers.Register(&trg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) fireTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, err := h.triggers.Fire(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, trigger.ErrTriggerNotFound):
			status = http.StatusNotFound
		case errors.Is(err, trigger.ErrCoolingDown), errors.Is(err, trigger.ErrDisabled):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "fired", "task_id": taskID})
}

func (h *Handler) enableTrigger(w http.ResponseWriter, r *http.Request) {
	h.toggleTrigger(w, r, h.triggers.Enable, "enabled")
}

func (h *Handler) disableTrigger(w http.ResponseWriter, r *http.Request) {
	h.toggleTrigger(w, r, h.triggers.Disable, "disabled")
}

func (h *Handler) toggleTrigger(w http.ResponseWriter, r *http.Request, op func(string) error, status string) {
	id := chi.URLParam(r, "id")
	if err := op(id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, trigger.ErrTriggerNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type publishEventRequest struct {
	Event string `json:"event"`
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event is required"})
		return
	}
	taskIDs := h.triggers.FireEvent(r.Context(), req.Event)
	writeJSON(w, http.StatusOK, map[string]any{"fired": len(taskIDs), "task_ids": taskIDs})
}

type reportThresholdRequest struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

func (h *Handler) reportThreshold(w http.ResponseWriter, r *http.Request) {
	var req reportThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Metric == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "metric is required"})
		return
	}
	taskIDs := h.triggers.CheckThreshold(r.Context(), req.Metric, req.Value)
	writeJSON(w, http.StatusOK, map[string]any{"fired": len(taskIDs), "task_ids": taskIDs})
}

func (h *Handler) removeTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.triggers.Remove(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type createEntitiesRequest struct {
	Entities  []*memory.Entity   `json:"entities"`
	Relations []*memory.Relation `json:"relations,omitempty"`
}

func (h *Handler) createEntities(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory graph not configured"})
		return
	}
	var req createEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Entities) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entities are required"})
		return
	}
	if err := h.graph.CreateEntities(r.Context(), req.Entities); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Relations) > 0 {
		if err := h.graph.CreateRelations(r.Context(), req.Relations); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"entities":  len(req.Entities),
		"relations": len(req.Relations),
	})
}

func (h *Handler) searchMemory(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory graph not configured"})
		return
	}
	var q memory.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if q.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	entities, err := h.graph.Search(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

type openNodesRequest struct {
	Names []string `json:"names"`
}

func (h *Handler) openNodes(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory graph not configured"})
		return
	}
	var req openNodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Names) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "names are required"})
		return
	}
	entities, err := h.graph.OpenNodes(r.Context(), req.Names)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
