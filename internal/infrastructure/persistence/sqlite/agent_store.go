package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nyukimin/portalclaw/internal/domain/agent"
)

// AgentStore は agents テーブルの agent.Repository 実装
type AgentStore struct {
	s *Store
}

// Agents はエージェントリポジトリを返す
func (s *Store) Agents() *AgentStore {
	return &AgentStore{s: s}
}

const agentColumns = "id, name, role, crew, status, model, description, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(r rowScanner) (agent.Agent, error) {
	var a agent.Agent
	var updated int64
	if err := r.Scan(&a.ID, &a.Name, &a.Role, &a.Crew, &a.Status, &a.Model, &a.Description, &updated); err != nil {
		return agent.Agent{}, err
	}
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

// List は全エージェントを ID 順に返す
func (a *AgentStore) List(ctx context.Context) ([]agent.Agent, error) {
	rows, err := a.s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []agent.Agent
	for rows.Next() {
		ag, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ag)
	}
	return out, rows.Err()
}

// Get は ID でエージェントを返す
func (a *AgentStore) Get(ctx context.Context, id int64) (agent.Agent, error) {
	ag, err := scanAgent(a.s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Agent{}, fmt.Errorf("%w: #%d", agent.ErrAgentNotFound, id)
	}
	if err != nil {
		return agent.Agent{}, fmt.Errorf("query agent: %w", err)
	}
	return ag, nil
}

// Create はエージェントを登録し、採番後の値を返す
func (a *AgentStore) Create(ctx context.Context, ag agent.Agent) (agent.Agent, error) {
	if ag.Name == "" {
		return agent.Agent{}, fmt.Errorf("agent name is required")
	}
	if ag.Status == "" {
		ag.Status = "active"
	}
	ag.UpdatedAt = a.s.now().UTC()

	a.s.writeMu.Lock()
	defer a.s.writeMu.Unlock()

	res, err := a.s.db.ExecContext(ctx, `
		INSERT INTO agents (name, role, crew, status, model, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ag.Name, ag.Role, ag.Crew, ag.Status, ag.Model, ag.Description, toMillis(ag.UpdatedAt))
	if err != nil {
		return agent.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return agent.Agent{}, err
	}
	ag.ID = id
	ag.UpdatedAt = fromMillis(toMillis(ag.UpdatedAt))
	return ag, nil
}

// Update は指定フィールドだけを変更し、更新時刻を更新する
func (a *AgentStore) Update(ctx context.Context, id int64, p agent.Patch) (agent.Agent, error) {
	a.s.writeMu.Lock()
	defer a.s.writeMu.Unlock()

	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return agent.Agent{}, err
	}
	current, err := scanAgent(tx.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return agent.Agent{}, fmt.Errorf("%w: #%d", agent.ErrAgentNotFound, id)
	}
	if err != nil {
		_ = tx.Rollback()
		return agent.Agent{}, fmt.Errorf("query agent: %w", err)
	}

	updated := p.Apply(current, a.s.now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET name = ?, role = ?, crew = ?, status = ?, model = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		updated.Name, updated.Role, updated.Crew, updated.Status, updated.Model, updated.Description,
		toMillis(updated.UpdatedAt), id); err != nil {
		_ = tx.Rollback()
		return agent.Agent{}, fmt.Errorf("update agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return agent.Agent{}, err
	}
	updated.UpdatedAt = fromMillis(toMillis(updated.UpdatedAt))
	return updated, nil
}
