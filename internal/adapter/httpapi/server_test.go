package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/llm"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/health"
	sessionrepo "github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/session"
)

type fakeConversation struct {
	lastTurn orchestrator.TurnRequest
	turnErr  error
	modes    map[string]mode.OperatingMode
}

func (f *fakeConversation) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	f.lastTurn = req
	if f.turnErr != nil {
		return orchestrator.TurnResponse{}, f.turnErr
	}
	m := mode.Chat
	if req.Mode != nil {
		m = *req.Mode
	}
	return orchestrator.TurnResponse{
		SessionID:   "s-1",
		Reply:       "Here you go",
		Mode:        m,
		ModelID:     "claude-test",
		PreResults:  []execution.Result{execution.Succeeded("agents", "list", "📊 list")},
		PostResults: []execution.Result{execution.Failed("delete", "Permission denied")},
		Usage:       llm.Usage{InputTokens: 10, OutputTokens: 3},
	}, nil
}

func (f *fakeConversation) SetMode(ctx context.Context, sessionID, channel string, m mode.OperatingMode) (mode.OperatingMode, error) {
	if !sessionrepo.ValidID(sessionID) {
		return m, fmt.Errorf("failed to resolve session: %w", sessionrepo.ErrInvalidSessionID)
	}
	prev := f.modes[sessionID]
	f.modes[sessionID] = m
	return prev, nil
}

type fakeLog struct {
	query audit.Query
}

func (f *fakeLog) Window(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	f.query = q
	return []audit.Entry{{Time: time.Now(), Category: audit.CategoryCommands, SessionID: "s-1", Summary: "@agents (success)"}}, nil
}

type fakeTasks struct {
	tasks []task.Task
}

func (f *fakeTasks) List(ctx context.Context) ([]task.Task, error) { return f.tasks, nil }
func (f *fakeTasks) Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error {
	next, err := fn(f.tasks)
	if err == nil {
		f.tasks = next
	}
	return err
}
func (f *fakeTasks) Enqueue(ctx context.Context, t task.Task) error {
	f.tasks = append(f.tasks, t)
	return nil
}

type fakeAgents struct {
	agents []agent.Agent
}

func (f *fakeAgents) List(ctx context.Context) ([]agent.Agent, error) { return f.agents, nil }
func (f *fakeAgents) Get(ctx context.Context, id int64) (agent.Agent, error) {
	return agent.Agent{}, agent.ErrAgentNotFound
}
func (f *fakeAgents) Create(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	a.ID = int64(len(f.agents) + 1)
	f.agents = append(f.agents, a)
	return a, nil
}
func (f *fakeAgents) Update(ctx context.Context, id int64, p agent.Patch) (agent.Agent, error) {
	return agent.Agent{}, agent.ErrAgentNotFound
}

type testServer struct {
	handler http.Handler
	conv    *fakeConversation
	log     *fakeLog
	tasks   *fakeTasks
	agents  *fakeAgents
}

func newTestServer() *testServer {
	ts := &testServer{
		conv:   &fakeConversation{modes: make(map[string]mode.OperatingMode)},
		log:    &fakeLog{},
		tasks:  &fakeTasks{},
		agents: &fakeAgents{},
	}
	srv := NewServer(Deps{Conversation: ts.conv, Log: ts.log, Tasks: ts.tasks, Agents: ts.agents}, zap.NewNop())
	ts.handler = srv.Routes()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_Degraded(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("store", func(ctx context.Context) error { return errors.New("database is locked") })
	checker.Register("workspace", func(ctx context.Context) error { return nil })

	srv := NewServer(Deps{Health: checker}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{
		"store":{"ok":false,"message":"database is locked"},
		"workspace":{"ok":true,"message":"ok"}}}`, rec.Body.String())
}

func TestTurn_Success(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/v1/turns", `{"session_id":"s-1","message":"@agents","mode":"hybrid"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Here you go", got.Reply)
	assert.Equal(t, "hybrid", got.Mode)
	require.Len(t, got.Directives, 2)
	assert.True(t, got.Directives[0].Success)
	assert.False(t, got.Directives[1].Success)
	assert.Equal(t, int64(10), got.Usage.InputTokens)

	assert.Equal(t, "http", ts.conv.lastTurn.Channel)
	require.NotNil(t, ts.conv.lastTurn.Mode)
	assert.Equal(t, mode.Hybrid, *ts.conv.lastTurn.Mode)
}

func TestTurn_UpstreamFailureIsBadGateway(t *testing.T) {
	ts := newTestServer()
	ts.conv.turnErr = fmt.Errorf("%w: %w", orchestrator.ErrTurnFailed, &llm.StatusError{Code: 529, Body: "secret detail"})

	rec := ts.do(http.MethodPost, "/v1/turns", `{"message":"hello"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream model request failed"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "reply")
}

func TestTurn_BadRequests(t *testing.T) {
	ts := newTestServer()

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/turns", `{"message":`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/turns", `{"message":"x","mode":"root"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/turns", `{"message":"x","extra":1}`).Code)

	ts.conv.turnErr = orchestrator.ErrEmptyMessage
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/turns", `{"message":""}`).Code)
}

func TestSetMode(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPut, "/v1/sessions/s-1/mode", `{"mode":"autonomous"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"session_id":"s-1","mode":"autonomous","previous":"chat"}`, rec.Body.String())
	assert.Equal(t, mode.Autonomous, ts.conv.modes["s-1"])

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/v1/sessions/s-1/mode", `{"mode":"god"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/v1/sessions/.hidden/mode", `{"mode":"chat"}`).Code)
}

func TestLogs(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/v1/logs?minutes=15&category=commands&session=s-1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "@agents (success)")
	assert.Equal(t, audit.CategoryCommands, ts.log.query.Category)
	assert.Equal(t, "s-1", ts.log.query.SessionID)
	assert.WithinDuration(t, time.Now().Add(-15*time.Minute), ts.log.query.Since, time.Minute)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/logs?category=gossip", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/logs?minutes=-1", "").Code)
}

func TestTasks(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/v1/tasks", `{"command":"@agents","mode":"chat"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)
	assert.True(t, strings.HasPrefix(created.ID, "task-"))
	assert.Equal(t, "chat", created.Mode)

	rec = ts.do(http.MethodGet, "/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/tasks", `{"command":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/tasks", `{"command":"x","session_id":"../x"}`).Code)
}

func TestAgents(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/v1/agents", `{"name":"Ada","role":"closer","crew":"sales"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":1`)

	rec = ts.do(http.MethodGet, "/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ada"`)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/agents", `{"role":"x"}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}
