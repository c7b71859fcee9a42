package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/agent"
	"github.com/nyx-labs/swarmd/internal/messaging"
	"github.com/nyx-labs/swarmd/internal/metrics"
	"github.com/nyx-labs/swarmd/internal/orchestrator"
	"github.com/nyx-labs/swarmd/internal/store"
	"github.com/nyx-labs/swarmd/internal/swarm"
	"github.com/nyx-labs/swarmd/internal/trigger"
)

// newTestHandler wires a Handler with in-memory deps (no Postgres,
// Redis, or Neo4j) and one idle research agent.
func newTestHandler(t *testing.T) (*orchestrator.Orchestrator, http.Handler) {
	t.Helper()
	logger := zap.NewNop()
	mem := store.NewMem()
	bus := messaging.NewMemBus()
	t.Cleanup(func() { bus.Close() })

	orch := orchestrator.New(mem, mem, bus, swarm.DefaultRoutingTable(), nil, orchestrator.Options{}, logger)
	a := agent.New(swarm.AgentConfig{
		ID:          "researcher-1",
		Name:        "researcher-1",
		Role:        "researcher",
		Coordinator: "research",
	}, agent.EchoProcessor{}, bus, mem, logger)
	ctx := context.Background()
	if err := orch.RegisterAgent(ctx, a); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop(context.Background()) })

	triggers := trigger.NewEngine(orch, logger)
	t.Cleanup(triggers.Stop)
	t.Cleanup(func() { orch.EmergencyShutdown(context.Background()) })

	h := NewHandler(orch, triggers, nil, metrics.New(), logger)
	return orch, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSwarmStatus(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/swarm/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Agents []swarm.AgentState `json:"agents"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Agents) != 1 || body.Agents[0].AgentID != "researcher-1" {
		t.Errorf("agents = %+v", body.Agents)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing type", map[string]any{}},
		{"priority too high", map[string]any{"type": "research", "priority": 4}},
		{"priority negative", map[string]any{"type": "research", "priority": -1}},
		{"timeout too small", map[string]any{"type": "research", "timeout_seconds": 5}},
		{"timeout too large", map[string]any{"type": "research", "timeout_seconds": 4000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts, "/api/swarm/tasks", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmitAndFetchTask(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/tasks", map[string]any{
		"type":            "research",
		"input":           map[string]any{"query": "what is up"},
		"priority":        1,
		"timeout_seconds": 60,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	id := created["task_id"]
	if id == "" {
		t.Fatal("no task id returned")
	}

	resp = getJSON(t, ts, "/api/swarm/tasks/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var task swarm.Task
	decodeJSON(t, resp, &task)
	if task.Type != "research" || task.Coordinator != "research" {
		t.Errorf("task = %+v", task)
	}
	if task.Priority != swarm.PriorityHigh {
		t.Errorf("priority = %d", task.Priority)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/swarm/tasks/ghost")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelTask(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/tasks", map[string]any{"type": "research"})
	var created map[string]string
	decodeJSON(t, resp, &created)
	id := created["task_id"]

	resp = postJSON(t, ts, "/api/swarm/tasks/"+id+"/cancel", map[string]any{"reason": "changed my mind"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Second cancel conflicts.
	resp = postJSON(t, ts, "/api/swarm/tasks/"+id+"/cancel", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", resp.StatusCode)
	}
}

func TestAgentPauseResume(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/agents/researcher-1/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/swarm/agents/researcher-1")
	var state swarm.AgentState
	decodeJSON(t, resp, &state)
	if state.Status != swarm.AgentPaused {
		t.Errorf("status = %s, want paused", state.Status)
	}

	resp = postJSON(t, ts, "/api/swarm/agents/researcher-1/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Resuming an idle agent conflicts.
	resp = postJSON(t, ts, "/api/swarm/agents/researcher-1/resume", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double resume status = %d, want 409", resp.StatusCode)
	}
}

func TestAgentStartStop(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/agents/researcher-1/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/swarm/agents/researcher-1")
	var state swarm.AgentState
	decodeJSON(t, resp, &state)
	if state.Status != swarm.AgentTerminated {
		t.Errorf("status = %s, want terminated", state.Status)
	}

	resp = postJSON(t, ts, "/api/swarm/agents/researcher-1/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/swarm/agents/researcher-1")
	decodeJSON(t, resp, &state)
	if state.Status != swarm.AgentIdle {
		t.Errorf("status after restart = %s, want idle", state.Status)
	}

	resp = postJSON(t, ts, "/api/swarm/agents/ghost/start", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("start unknown agent status = %d, want 404", resp.StatusCode)
	}
}

func TestAgentNotFound(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/swarm/agents/ghost")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBroadcast(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/broadcast", map[string]any{"message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["recipients"] != 1.0 {
		t.Errorf("recipients = %v", body["recipients"])
	}

	resp = postJSON(t, ts, "/api/swarm/broadcast", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty broadcast status = %d", resp.StatusCode)
	}
}

func TestPipelineEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/swarm/pipelines")
	var listing struct {
		Templates []string `json:"templates"`
	}
	decodeJSON(t, resp, &listing)
	if len(listing.Templates) == 0 {
		t.Fatal("no templates listed")
	}

	resp = postJSON(t, ts, "/api/swarm/pipelines", map[string]any{"template": "nonexistent"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown template status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/swarm/pipelines", map[string]any{"template": "research_and_summarize"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	if created["pipeline_id"] == "" {
		t.Fatal("no pipeline id")
	}

	resp = getJSON(t, ts, "/api/swarm/pipelines/"+created["pipeline_id"])
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get pipeline status = %d", resp.StatusCode)
	}
	var exec swarm.PipelineExecution
	decodeJSON(t, resp, &exec)
	if exec.Name != "research_and_summarize" {
		t.Errorf("pipeline name = %s", exec.Name)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/triggers", map[string]any{
		"name":    "manual research",
		"type":    "manual",
		"enabled": true,
		"action":  map[string]any{"task_type": "research"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var trg trigger.Trigger
	decodeJSON(t, resp, &trg)
	if trg.ID == "" {
		t.Fatal("no trigger id")
	}
	if trg.Cooldown < time.Second {
		t.Errorf("cooldown = %s", trg.Cooldown)
	}

	resp = postJSON(t, ts, "/api/swarm/triggers/"+trg.ID+"/fire", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fire status = %d", resp.StatusCode)
	}
	var fired map[string]string
	decodeJSON(t, resp, &fired)
	if fired["task_id"] == "" {
		t.Error("fire returned no task id")
	}

	// Cooldown turns the second fire into a conflict.
	resp = postJSON(t, ts, "/api/swarm/triggers/"+trg.ID+"/fire", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second fire status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/swarm/triggers/"+trg.ID+"/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/swarm/triggers/"+trg.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/swarm/triggers/"+trg.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete again status = %d, want 404", resp.StatusCode)
	}
}

func TestEventAndThresholdEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/swarm/triggers", map[string]any{
		"name":      "deploy finished",
		"type":      "event",
		"enabled":   true,
		"condition": map[string]any{"event": "deploy.finished"},
		"action":    map[string]any{"task_type": "research"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event trigger status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/swarm/triggers", map[string]any{
		"name":    "queue depth alarm",
		"type":    "threshold",
		"enabled": true,
		"condition": map[string]any{
			"metric": "queue_depth", "operator": "gt", "value": 100.0,
		},
		"action": map[string]any{"task_type": "research"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create threshold trigger status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/swarm/events", map[string]any{"event": "deploy.finished"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish event status = %d", resp.StatusCode)
	}
	var fired map[string]any
	decodeJSON(t, resp, &fired)
	if fired["fired"] != 1.0 {
		t.Errorf("event fired %v triggers, want 1", fired["fired"])
	}

	resp = postJSON(t, ts, "/api/swarm/events", map[string]any{"event": "deploy.started"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish unmatched event status = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &fired)
	if fired["fired"] != 0.0 {
		t.Errorf("unmatched event fired %v triggers, want 0", fired["fired"])
	}

	resp = postJSON(t, ts, "/api/swarm/thresholds", map[string]any{
		"metric": "queue_depth", "value": 180.0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report threshold status = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &fired)
	if fired["fired"] != 1.0 {
		t.Errorf("threshold fired %v triggers, want 1", fired["fired"])
	}

	resp = postJSON(t, ts, "/api/swarm/events", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty event status = %d, want 400", resp.StatusCode)
	}
}

func TestMemoryUnavailable(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/search", map[string]any{"text": "anything"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
