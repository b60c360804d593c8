package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
	sessionrepo "github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/session"
)

const channelHTTP = "http"

type turnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Mode      string `json:"mode,omitempty"`
	Model     string `json:"model,omitempty"`
}

type directiveResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type usageResponse struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type turnResponse struct {
	SessionID  string            `json:"session_id"`
	Reply      string            `json:"reply"`
	Mode       string            `json:"mode"`
	Model      string            `json:"model"`
	Directives []directiveResult `json:"directives"`
	Usage      usageResponse     `json:"usage"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	treq := orchestrator.TurnRequest{
		SessionID: strings.TrimSpace(req.SessionID),
		Channel:   channelHTTP,
		Message:   req.Message,
		ModelID:   req.Model,
	}
	if req.Mode != "" {
		m, err := mode.Parse(req.Mode)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		treq.Mode = &m
	}

	resp, err := s.deps.Conversation.HandleTurn(r.Context(), treq)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrEmptyMessage):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, sessionrepo.ErrInvalidSessionID):
			respondError(w, http.StatusBadRequest, "invalid session id")
		case errors.Is(err, orchestrator.ErrTurnFailed):
			// 上流の詳細は返さない。部分的な応答も返さない
			respondError(w, http.StatusBadGateway, "upstream model request failed")
		default:
			s.logger.Error("http.turn_failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	out := turnResponse{
		SessionID:  resp.SessionID,
		Reply:      resp.Reply,
		Mode:       resp.Mode.String(),
		Model:      resp.ModelID,
		Directives: make([]directiveResult, 0, len(resp.PreResults)+len(resp.PostResults)),
		Usage:      usageResponse{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	for _, group := range [][]execution.Result{resp.PreResults, resp.PostResults} {
		for _, res := range group {
			out.Directives = append(out.Directives, directiveResult{Name: res.Name, Success: res.Success, Error: res.Error})
		}
	}
	respondJSON(w, http.StatusOK, out)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Previous  string `json:"previous"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))

	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := mode.Parse(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	prev, err := s.deps.Conversation.SetMode(r.Context(), sessionID, channelHTTP, m)
	if err != nil {
		if errors.Is(err, sessionrepo.ErrInvalidSessionID) {
			respondError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		s.logger.Error("http.set_mode_failed", zap.String("session_id", sessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, modeResponse{SessionID: sessionID, Mode: m.String(), Previous: prev.String()})
}

type logEntry struct {
	Time      time.Time `json:"time"`
	Category  string    `json:"category"`
	SessionID string    `json:"session_id,omitempty"`
	Summary   string    `json:"summary"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minutes := 60
	if raw := q.Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	category, err := audit.ParseCategory(q.Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.deps.Log.Window(r.Context(), audit.Query{
		Since:     s.now().Add(-time.Duration(minutes) * time.Minute),
		Category:  category,
		SessionID: q.Get("session"),
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("http.logs_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]logEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntry{Time: e.Time.UTC(), Category: string(e.Category), SessionID: e.SessionID, Summary: e.Summary})
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type taskResponse struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Status     string     `json:"status"`
	SessionID  string     `json:"session_id,omitempty"`
	Mode       string     `json:"mode,omitempty"`
	Response   string     `json:"response,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toTaskResponse(t task.Task) taskResponse {
	out := taskResponse{
		ID:        t.ID().String(),
		Command:   t.Command(),
		Status:    string(t.Status()),
		SessionID: t.SessionID(),
		Response:  t.Response(),
		Error:     t.ErrorMessage(),
		CreatedAt: t.CreatedAt().UTC(),
	}
	if m, ok := t.Mode(); ok {
		out.Mode = m.String()
	}
	if !t.FinishedAt().IsZero() {
		finished := t.FinishedAt().UTC()
		out.FinishedAt = &finished
	}
	return out
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.logger.Error("http.tasks_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

type createTaskRequest struct {
	Command   string `json:"command"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := newTask(req.Command, req.Mode, req.SessionID, s.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Tasks.Enqueue(r.Context(), t); err != nil {
		s.logger.Error("http.enqueue_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, toTaskResponse(t))
}

// newTask は入力を検証して pending のタスクを作成する
func newTask(command, modeName, sessionID string, now time.Time) (task.Task, error) {
	if strings.TrimSpace(command) == "" {
		return task.Task{}, errors.New("command is required")
	}
	t := task.NewTask(task.NewID(now), command, now)
	if modeName != "" {
		m, err := mode.Parse(modeName)
		if err != nil {
			return task.Task{}, err
		}
		t = t.WithMode(m)
	}
	if sessionID != "" {
		if !sessionrepo.ValidID(sessionID) {
			return task.Task{}, fmt.Errorf("invalid session id %q", sessionID)
		}
		t = t.WithSession(sessionID)
	}
	return t, nil
}

type agentPayload struct {
	ID          int64     `json:"id,omitempty"`
	Name        string    `json:"name"`
	Role        string    `json:"role,omitempty"`
	Crew        string    `json:"crew,omitempty"`
	Status      string    `json:"status,omitempty"`
	Model       string    `json:"model,omitempty"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func toAgentPayload(a agent.Agent) agentPayload {
	return agentPayload{
		ID:          a.ID,
		Name:        a.Name,
		Role:        a.Role,
		Crew:        a.Crew,
		Status:      a.Status,
		Model:       a.Model,
		Description: a.Description,
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Agents.List(r.Context())
	if err != nil {
		s.logger.Error("http.agents_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]agentPayload, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentPayload(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentPayload
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	created, err := s.deps.Agents.Create(r.Context(), agent.Agent{
		Name:        strings.TrimSpace(req.Name),
		Role:        req.Role,
		Crew:        req.Crew,
		Status:      req.Status,
		Model:       req.Model,
		Description: req.Description,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		s.logger.Error("http.create_agent_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, toAgentPayload(created))
}
