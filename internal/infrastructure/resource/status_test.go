package resource

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
)

type fakeAgents struct {
	agents []agent.Agent
}

func (f *fakeAgents) List(ctx context.Context) ([]agent.Agent, error) { return f.agents, nil }
func (f *fakeAgents) Get(ctx context.Context, id int64) (agent.Agent, error) {
	for _, a := range f.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return agent.Agent{}, agent.ErrAgentNotFound
}
func (f *fakeAgents) Create(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	f.agents = append(f.agents, a)
	return a, nil
}
func (f *fakeAgents) Update(ctx context.Context, id int64, p agent.Patch) (agent.Agent, error) {
	for i, a := range f.agents {
		if a.ID == id {
			f.agents[i] = p.Apply(a, time.Now())
			return f.agents[i], nil
		}
	}
	return agent.Agent{}, agent.ErrAgentNotFound
}

type fakeTasks struct{ tasks []task.Task }

func (f *fakeTasks) List(ctx context.Context) ([]task.Task, error) { return f.tasks, nil }
func (f *fakeTasks) Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error {
	out, err := fn(f.tasks)
	if err == nil {
		f.tasks = out
	}
	return err
}
func (f *fakeTasks) Enqueue(ctx context.Context, t task.Task) error {
	f.tasks = append(f.tasks, t)
	return nil
}

type fakeLog struct {
	last    audit.Query
	entries []audit.Entry
	turns   []audit.Turn
}

func (f *fakeLog) Window(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	f.last = q
	return f.entries, nil
}
func (f *fakeLog) AppendTurns(ctx context.Context, turns ...audit.Turn) error {
	f.turns = append(f.turns, turns...)
	return nil
}
func (f *fakeLog) RecentTurns(ctx context.Context, sessionID string, limit int) ([]audit.Turn, error) {
	return f.turns, nil
}
func (f *fakeLog) RecordUsage(ctx context.Context, u audit.Usage) error { return nil }
func (f *fakeLog) Performance(ctx context.Context, since time.Time) (audit.Performance, error) {
	return audit.Performance{Since: since, Turns: 1, InputTokens: 10, OutputTokens: 2}, nil
}

func newTestStatus() (*Status, *fakeAgents, *fakeLog) {
	agents := &fakeAgents{agents: []agent.Agent{
		{ID: 1, Name: "Lead Bot", Crew: "sales", Status: "active"},
		{ID: 2, Name: "Help Bot", Crew: "support", Status: "idle"},
	}}
	log := &fakeLog{}
	s := NewStatus(agents, &fakeTasks{}, log, log, log)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, agents, log
}

func TestStatus_AgentsAndCrews(t *testing.T) {
	s, _, _ := newTestStatus()

	out, err := s.Agents(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Agents (2):"))

	crews, err := s.Crews(context.Background())
	require.NoError(t, err)
	assert.Contains(t, crews, "- sales: 1 members")
}

func TestStatus_UpdateAgent(t *testing.T) {
	s, agents, _ := newTestStatus()
	p, err := agent.NewPatch(map[string]string{"status": "paused"})
	require.NoError(t, err)

	updated, err := s.UpdateAgent(context.Background(), 2, p)
	require.NoError(t, err)
	assert.Equal(t, "paused", updated.Status)
	assert.Equal(t, "paused", agents.agents[1].Status)

	_, err = s.UpdateAgent(context.Background(), 99, p)
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestStatus_LogsUsesWindow(t *testing.T) {
	s, _, log := newTestStatus()

	out, err := s.Logs(context.Background(), 30*time.Minute, audit.CategoryCommands, "s1", 50)
	require.NoError(t, err)
	assert.Contains(t, out, "No log entries in the last 30m0s")
	assert.Equal(t, time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC), log.last.Since)
	assert.Equal(t, audit.CategoryCommands, log.last.Category)
	assert.Equal(t, "s1", log.last.SessionID)
}

func TestStatus_Memory(t *testing.T) {
	s, _, log := newTestStatus()

	out, _ := s.Memory(context.Background(), "", 10)
	assert.Contains(t, out, "no active session")

	log.turns = []audit.Turn{{Sender: audit.SenderUser, Text: "hello\nthere", CreatedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)}}
	out, err := s.Memory(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-01T11:00:00Z user: hello there")
}

func TestStatus_TasksAndPerformance(t *testing.T) {
	s, _, _ := newTestStatus()

	out, err := s.Tasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No tasks.", out)

	perf, err := s.Performance(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Contains(t, perf, "tokens in/out: 10/2")
}
