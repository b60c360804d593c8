package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/health"
)

const maxBodyBytes = 1 << 20

// Conversation はターン処理とモード変更
type Conversation interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
	SetMode(ctx context.Context, sessionID, channel string, m mode.OperatingMode) (mode.OperatingMode, error)
}

// HealthReporter は依存先の状態を確認する
type HealthReporter interface {
	Run(ctx context.Context) health.Report
}

// Deps はHTTPサーバーの依存
type Deps struct {
	Conversation Conversation
	Log          audit.Log
	Tasks        task.Repository
	Agents       agent.Repository
	Health       HealthReporter // nil なら常に ok
}

// Server はポータル向けのHTTP API
type Server struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewServer は新しいServerを作成
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, logger: logger.Named("http"), now: time.Now}
}

// Routes はルーティング済みのハンドラを返す
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.accessLog)

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Put("/sessions/{sessionID}/mode", s.handleSetMode)
		r.Get("/logs", s.handleLogs)
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleCreateAgent)
	})
	return router
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http.request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", s.now().Sub(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.deps.Health.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
		s.logger.Warn("health.degraded", zap.Any("checks", report.Checks))
	}
	respondJSON(w, status, report)
}

// errorResponse はエラー応答の本文
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON は本文を dst に読み込む。未知のフィールドは拒否する
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
