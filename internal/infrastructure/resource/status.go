package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
)

// Status はポータルの状態照会をまとめたアダプタ
// 各ストアの内容を決定的なテキストに整形して返す
type Status struct {
	agents agent.Repository
	tasks  task.Repository
	log    audit.Log
	turns  audit.TurnStore
	usage  audit.UsageStore
	now    func() time.Time
}

// NewStatus は新しいStatusを作成
func NewStatus(agents agent.Repository, tasks task.Repository, log audit.Log, turns audit.TurnStore, usage audit.UsageStore) *Status {
	return &Status{
		agents: agents,
		tasks:  tasks,
		log:    log,
		turns:  turns,
		usage:  usage,
		now:    time.Now,
	}
}

// Agents はエージェント一覧を返す
func (s *Status) Agents(ctx context.Context) (string, error) {
	list, err := s.agents.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	return agent.FormatList(list), nil
}

// UpdateAgent はエージェントを部分更新する
func (s *Status) UpdateAgent(ctx context.Context, id int64, p agent.Patch) (agent.Agent, error) {
	return s.agents.Update(ctx, id, p)
}

// Crews はクルーごとの状態を返す
func (s *Status) Crews(ctx context.Context) (string, error) {
	list, err := s.agents.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	return agent.FormatCrews(list), nil
}

// Tasks はタスク一覧の要約を返す
func (s *Status) Tasks(ctx context.Context) (string, error) {
	list, err := s.tasks.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	return task.Summarize(list), nil
}

// Logs は直近 window のログを返す
func (s *Status) Logs(ctx context.Context, window time.Duration, category audit.Category, sessionID string, limit int) (string, error) {
	entries, err := s.log.Window(ctx, audit.Query{
		Since:     s.now().Add(-window),
		Category:  category,
		SessionID: sessionID,
		Limit:     limit,
	})
	if err != nil {
		return "", fmt.Errorf("query logs: %w", err)
	}
	return audit.FormatWindow(entries, window), nil
}

// Memory はセッションの直近の会話を返す
func (s *Status) Memory(ctx context.Context, sessionID string, limit int) (string, error) {
	if sessionID == "" {
		return "No session memory (no active session).", nil
	}
	turns, err := s.turns.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		return "", fmt.Errorf("load turns: %w", err)
	}
	if len(turns) == 0 {
		return fmt.Sprintf("Session %s has no stored turns.", sessionID), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s memory (last %d turns):\n", sessionID, len(turns))
	for _, t := range turns {
		fmt.Fprintf(&b, "- %s %s: %s\n", t.CreatedAt.UTC().Format(time.RFC3339), t.Sender, preview(t.Text, 120))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Performance は window 内の実行性能を返す
func (s *Status) Performance(ctx context.Context, window time.Duration) (string, error) {
	p, err := s.usage.Performance(ctx, s.now().Add(-window))
	if err != nil {
		return "", fmt.Errorf("aggregate performance: %w", err)
	}
	return audit.FormatPerformance(p), nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
