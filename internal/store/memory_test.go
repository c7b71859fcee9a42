package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

func newTask(id, coordinator string, priority swarm.Priority, createdAt time.Time) *swarm.Task {
	return &swarm.Task{
		ID:          id,
		Type:        "research",
		Priority:    priority,
		Coordinator: coordinator,
		MaxRetries:  3,
		Timeout:     5 * time.Minute,
		Status:      swarm.TaskQueued,
		CreatedAt:   createdAt,
	}
}

func TestMemCreateAndGet(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	task := newTask("t1", "research", swarm.PriorityNormal, time.Now())
	if err := m.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := m.CreateTask(ctx, task); err == nil {
		t.Error("duplicate id accepted")
	}

	got, err := m.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	// Returned values are copies: mutation must not leak into the store.
	got.Status = swarm.TaskCompleted
	again, _ := m.GetTask(ctx, "t1")
	if again.Status != swarm.TaskQueued {
		t.Error("copy mutation leaked into the store")
	}

	if _, err := m.GetTask(ctx, "ghost"); !errors.Is(err, swarm.ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestMemTransitionGuard(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	if err := m.CreateTask(ctx, newTask("t1", "research", swarm.PriorityNormal, time.Now())); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Illegal edge errors.
	if _, err := m.TransitionTask(ctx, "t1", swarm.TaskQueued, swarm.TaskCompleted, swarm.TaskPatch{}); err == nil {
		t.Error("illegal edge accepted")
	}

	agent := "worker-1"
	ok, err := m.TransitionTask(ctx, "t1", swarm.TaskQueued, swarm.TaskAssigned, swarm.TaskPatch{AssignedAgent: &agent})
	if err != nil || !ok {
		t.Fatalf("transition: ok=%v err=%v", ok, err)
	}

	// Wrong from status is a clean false, not an error.
	ok, err = m.TransitionTask(ctx, "t1", swarm.TaskQueued, swarm.TaskAssigned, swarm.TaskPatch{})
	if err != nil {
		t.Fatalf("stale transition: %v", err)
	}
	if ok {
		t.Error("stale transition succeeded")
	}

	got, _ := m.GetTask(ctx, "t1")
	if got.Status != swarm.TaskAssigned || got.AssignedAgent != "worker-1" {
		t.Errorf("task = %+v", got)
	}
}

func TestMemTransitionRace(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	if err := m.CreateTask(ctx, newTask("t1", "research", swarm.PriorityNormal, time.Now())); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		agent := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.TransitionTask(ctx, "t1", swarm.TaskQueued, swarm.TaskAssigned, swarm.TaskPatch{AssignedAgent: &agent})
			if err == nil && ok {
				wins <- agent
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	got, _ := m.GetTask(ctx, "t1")
	if got.AssignedAgent != winners[0] {
		t.Errorf("assigned = %s, winner = %s", got.AssignedAgent, winners[0])
	}
}

func TestMemNextQueuedOrdering(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	base := time.Now()
	m.CreateTask(ctx, newTask("old-normal", "research", swarm.PriorityNormal, base))
	m.CreateTask(ctx, newTask("new-normal", "research", swarm.PriorityNormal, base.Add(time.Second)))
	m.CreateTask(ctx, newTask("late-urgent", "research", swarm.PriorityEmergency, base.Add(2*time.Second)))
	m.CreateTask(ctx, newTask("other-pool", "quality", swarm.PriorityEmergency, base))

	next, err := m.NextQueuedTask(ctx, "research")
	if err != nil {
		t.Fatalf("NextQueuedTask: %v", err)
	}
	if next.ID != "late-urgent" {
		t.Errorf("next = %s, want late-urgent", next.ID)
	}

	// Priority ties break on creation time.
	m.TransitionTask(ctx, "late-urgent", swarm.TaskQueued, swarm.TaskCancelled, swarm.TaskPatch{})
	next, _ = m.NextQueuedTask(ctx, "research")
	if next.ID != "old-normal" {
		t.Errorf("next = %s, want old-normal", next.ID)
	}

	if got, _ := m.NextQueuedTask(ctx, "empty-pool"); got != nil {
		t.Errorf("empty pool returned %v", got)
	}
}

func TestMemActiveTasks(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	base := time.Now()
	m.CreateTask(ctx, newTask("t1", "research", swarm.PriorityNormal, base))
	m.CreateTask(ctx, newTask("t2", "research", swarm.PriorityNormal, base.Add(time.Second)))
	m.TransitionTask(ctx, "t2", swarm.TaskQueued, swarm.TaskCancelled, swarm.TaskPatch{})

	active, err := m.ActiveTasks(ctx)
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	if len(active) != 1 || active[0].ID != "t1" {
		t.Errorf("active = %+v", active)
	}
}

func TestMemAgentStates(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	st := &swarm.AgentState{
		AgentID:     "worker-1",
		Name:        "worker-1",
		Role:        "researcher",
		Coordinator: "research",
		Status:      swarm.AgentIdle,
	}
	if err := m.RegisterAgent(ctx, st); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	processing := swarm.AgentProcessing
	taskID := "t1"
	if err := m.UpdateAgentState(ctx, "worker-1", swarm.AgentStatePatch{
		Status:        &processing,
		CurrentTaskID: &taskID,
	}); err != nil {
		t.Fatalf("UpdateAgentState: %v", err)
	}

	got, err := m.GetAgentState(ctx, "worker-1")
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if got.Status != swarm.AgentProcessing || got.CurrentTaskID != "t1" {
		t.Errorf("state = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not stamped")
	}

	if err := m.UpdateAgentState(ctx, "ghost", swarm.AgentStatePatch{}); !errors.Is(err, swarm.ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}

	all, _ := m.AllAgentStates(ctx)
	if len(all) != 1 {
		t.Errorf("all = %+v", all)
	}
}
