package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// RegisterAgent upserts an agent's persisted state.
func (s *Store) RegisterAgent(ctx context.Context, st *swarm.AgentState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, name, role, coordinator, status, current_task_id,
		                    tasks_completed, tasks_failed, tokens_used, last_error,
		                    last_heartbeat, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			coordinator = EXCLUDED.coordinator,
			status = EXCLUDED.status,
			current_task_id = EXCLUDED.current_task_id,
			updated_at = EXCLUDED.updated_at`,
		st.AgentID, st.Name, st.Role, st.Coordinator, string(st.Status), st.CurrentTaskID,
		st.TasksCompleted, st.TasksFailed, st.TokensUsed, st.LastError,
		st.LastHeartbeat, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("register agent %s: %w", st.AgentID, err)
	}
	return nil
}

const agentColumns = `id, name, role, coordinator, status, current_task_id,
	tasks_completed, tasks_failed, tokens_used, last_error, last_heartbeat, started_at, updated_at`

// GetAgentState retrieves one agent's state, or swarm.ErrAgentNotFound.
func (s *Store) GetAgentState(ctx context.Context, id string) (*swarm.AgentState, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	st, err := scanAgentState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, swarm.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent state %s: %w", id, err)
	}
	return st, nil
}

// UpdateAgentState applies a partial update to an agent's state.
func (s *Store) UpdateAgentState(ctx context.Context, id string, patch swarm.AgentStatePatch) error {
	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)+2))
		args = append(args, value)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.CurrentTaskID != nil {
		add("current_task_id", *patch.CurrentTaskID)
	}
	if patch.TasksCompleted != nil {
		add("tasks_completed", *patch.TasksCompleted)
	}
	if patch.TasksFailed != nil {
		add("tasks_failed", *patch.TasksFailed)
	}
	if patch.TokensUsed != nil {
		add("tokens_used", *patch.TokensUsed)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}
	if patch.LastHeartbeat != nil {
		add("last_heartbeat", *patch.LastHeartbeat)
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = NOW()")
	query := `UPDATE agents SET ` + strings.Join(set, ", ") + ` WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update agent state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return swarm.ErrAgentNotFound
	}
	return nil
}

// AllAgentStates returns the persisted state of every registered agent.
func (s *Store) AllAgentStates(ctx context.Context) ([]*swarm.AgentState, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all agent states: %w", err)
	}
	defer rows.Close()

	var states []*swarm.AgentState
	for rows.Next() {
		st, err := scanAgentState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func scanAgentState(row pgx.Row) (*swarm.AgentState, error) {
	var (
		st     swarm.AgentState
		status string
	)
	err := row.Scan(
		&st.AgentID, &st.Name, &st.Role, &st.Coordinator, &status, &st.CurrentTaskID,
		&st.TasksCompleted, &st.TasksFailed, &st.TokensUsed, &st.LastError,
		&st.LastHeartbeat, &st.StartedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Status = swarm.AgentStatus(status)
	return &st, nil
}
