package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// CreateTask inserts a new task record.
func (s *Store) CreateTask(ctx context.Context, t *swarm.Task) error {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("marshal task input: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tasks (id, type, priority, coordinator, assigned_agent, parent_task_id,
		                   input, retry_count, max_retries, timeout_seconds, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Type, int(t.Priority), t.Coordinator, t.AssignedAgent, t.ParentTaskID,
		input, t.RetryCount, t.MaxRetries, int(t.Timeout.Seconds()), string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

const taskColumns = `id, type, priority, coordinator, assigned_agent, parent_task_id,
	input, output, retry_count, max_retries, timeout_seconds, error, status,
	created_at, started_at, completed_at`

// GetTask retrieves a task by id, or swarm.ErrTaskNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*swarm.Task, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, swarm.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies a patch without touching the status column.
func (s *Store) UpdateTask(ctx context.Context, id string, patch swarm.TaskPatch) error {
	set, args, err := patchClauses(patch, 2)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if len(set) == 0 {
		return nil
	}
	query := `UPDATE tasks SET ` + strings.Join(set, ", ") + ` WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return swarm.ErrTaskNotFound
	}
	return nil
}

// TransitionTask moves a task between statuses atomically: the UPDATE
// only matches while the task is still in the from status, so two
// racing dispatchers cannot both claim it.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to swarm.TaskStatus, patch swarm.TaskPatch) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("transition task %s: %s -> %s is not a legal edge", id, from, to)
	}
	set, args, err := patchClauses(patch, 4)
	if err != nil {
		return false, fmt.Errorf("transition task %s: %w", id, err)
	}
	set = append([]string{"status = $3"}, set...)
	query := `UPDATE tasks SET ` + strings.Join(set, ", ") + ` WHERE id = $1 AND status = $2`
	tag, err := s.db.Exec(ctx, query, append([]any{id, string(from), string(to)}, args...)...)
	if err != nil {
		return false, fmt.Errorf("transition task %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// NextQueuedTask returns the most urgent, oldest queued task for a
// coordinator, or nil when none is waiting.
func (s *Store) NextQueuedTask(ctx context.Context, coordinator string) (*swarm.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'queued' AND coordinator = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT 1`, coordinator)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued task for %s: %w", coordinator, err)
	}
	return t, nil
}

// ActiveTasks returns every task in a non-terminal status.
func (s *Store) ActiveTasks(ctx context.Context) ([]*swarm.Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('queued', 'assigned', 'processing')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*swarm.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*swarm.Task, error) {
	var (
		t              swarm.Task
		priority       int
		timeoutSeconds int
		status         string
		inputJSON      []byte
		outputJSON     []byte
	)
	err := row.Scan(
		&t.ID, &t.Type, &priority, &t.Coordinator, &t.AssignedAgent, &t.ParentTaskID,
		&inputJSON, &outputJSON, &t.RetryCount, &t.MaxRetries, &timeoutSeconds,
		&t.Error, &status, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = swarm.Priority(priority)
	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	t.Status = swarm.TaskStatus(status)
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &t.Input); err != nil {
			return nil, fmt.Errorf("unmarshal task input: %w", err)
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &t.Output); err != nil {
			return nil, fmt.Errorf("unmarshal task output: %w", err)
		}
	}
	return &t, nil
}

// patchClauses renders a TaskPatch as SET fragments with placeholders
// starting at the given index.
func patchClauses(patch swarm.TaskPatch, firstArg int) ([]string, []any, error) {
	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, firstArg+len(args)))
		args = append(args, value)
	}
	if patch.AssignedAgent != nil {
		add("assigned_agent", *patch.AssignedAgent)
	}
	if patch.Output != nil {
		data, err := json.Marshal(patch.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal task output: %w", err)
		}
		add("output", data)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	return set, args, nil
}
