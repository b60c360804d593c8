package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/adapter/config"
	"github.com/Nyukimin/portalclaw/internal/application/dispatcher"
	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/llm"
	"github.com/Nyukimin/portalclaw/internal/domain/permission"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/health"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/llm/claude"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/llm/ollama"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/llm/openai"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/llm/upstream"
	sessionrepo "github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/session"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/sqlite"
	taskrepo "github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/resource"
)

// errNoUpstream は上流モデルなしで会話ターンを要求された場合のエラー
var errNoUpstream = errors.New("no upstream model configured")

// Dependencies はアプリケーション依存関係
type Dependencies struct {
	Store        *sqlite.Store
	Sessions     *sessionrepo.JSONSessionRepository
	Tasks        *taskrepo.JSONTaskRepository
	Orchestrator *orchestrator.ConversationOrchestrator
	Health       *health.Checker
}

// Close は保持しているリソースを解放
func (d *Dependencies) Close() error {
	return d.Store.Close()
}

// buildDependencies は依存関係を構築
// withModel が false の場合は上流モデルを使わない（指示の実行だけ）
func buildDependencies(cfg *config.Config, logger *zap.Logger, withModel bool) (*Dependencies, error) {
	// 1. Stores
	store, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Session.StorageDir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	sessions := sessionrepo.NewJSONSessionRepository(cfg.Session.StorageDir)
	tasks := taskrepo.NewJSONTaskRepository(cfg.Tasks.File)

	// 2. Resource adapters
	if err := os.MkdirAll(cfg.Workspace.Dir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	ws, err := resource.NewWorkspace(cfg.Workspace.Dir, cfg.Workspace.Prefix)
	if err != nil {
		store.Close()
		return nil, err
	}
	adapters := dispatcher.Adapters{
		Files:  ws,
		Status: resource.NewStatus(store.Agents(), tasks, store, store, store),
	}
	if cfg.Containers.Enabled {
		adapters.Containers = resource.NewContainerRuntime(cfg.Containers.Binary, cfg.Containers.Timeout, nil)
		logger.Info("containers enabled", zap.String("binary", cfg.Containers.Binary))
	}
	if cfg.Workspace.ShellEnabled {
		adapters.Scripts = resource.NewShell(ws.Base(), cfg.Workspace.ShellTimeout, nil)
		logger.Info("shell enabled", zap.String("dir", ws.Base()))
	}

	// 3. Gate + Dispatcher
	gate := permission.NewDefaultGate()
	disp := dispatcher.NewDispatcher(gate, adapters, store, logger)

	// 4. Upstream model
	var model orchestrator.Completer = noUpstream{}
	if withModel {
		provider, err := newProvider(cfg)
		if err != nil {
			store.Close()
			return nil, err
		}
		model = upstream.NewClient(provider, upstream.Config{
			HistoryTurns:   cfg.Upstream.HistoryTurns,
			MaxAttempts:    cfg.Upstream.MaxAttempts,
			BaseDelay:      cfg.Upstream.BaseDelay,
			MaxDelay:       cfg.Upstream.MaxDelay,
			AttemptTimeout: cfg.Upstream.Timeout,
			MaxTokens:      cfg.Upstream.MaxTokens,
			DefaultModel:   cfg.Upstream.Model,
		}, logger)
		logger.Info("upstream enabled", zap.String("provider", provider.Name()))
	}

	// 5. Orchestrator
	basePrompt, err := cfg.BasePrompt()
	if err != nil {
		store.Close()
		return nil, err
	}
	orch := orchestrator.NewConversationOrchestrator(orchestrator.Deps{
		Sessions: sessions,
		Runner:   disp,
		Model:    model,
		Turns:    store,
		Usage:    store,
		Events:   store,
		Gate:     gate,
	}, orchestrator.Config{
		BasePrompt:   basePrompt,
		DefaultMode:  cfg.DefaultMode(),
		DefaultModel: cfg.Upstream.Model,
		HistoryTurns: cfg.Upstream.HistoryTurns,
	}, logger)

	// 6. Health checks
	checker := health.NewChecker(3 * time.Second)
	checker.Register("store", health.PingCheck(store))
	checker.Register("workspace", health.DirCheck(ws.Base()))
	checker.Register("sessions", health.DirCheck(cfg.Session.StorageDir))
	if withModel && cfg.Upstream.Provider == config.ProviderOllama {
		checker.Register("upstream", health.HTTPCheck(nil, ollamaBaseURL(cfg)))
	}

	logger.Debug("dependency injection complete")
	return &Dependencies{
		Store:        store,
		Sessions:     sessions,
		Tasks:        tasks,
		Orchestrator: orch,
		Health:       checker,
	}, nil
}

// newProvider は設定に応じた上流プロバイダーを作成
func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.Upstream.NeedsAPIKey() && cfg.Upstream.APIKey == "" {
		return nil, fmt.Errorf("upstream API key is not set for %s (provider key variable or PORTALCLAW_UPSTREAM_API_KEY)", cfg.Upstream.Provider)
	}
	httpClient := &http.Client{}
	switch cfg.Upstream.Provider {
	case config.ProviderOpenAI, config.ProviderDeepSeek:
		return openai.NewOpenAIProvider(cfg.Upstream.APIKey, cfg.Upstream.Model, cfg.Upstream.BaseURL, httpClient), nil
	case config.ProviderOllama:
		return ollama.NewOllamaProvider(ollamaBaseURL(cfg), cfg.Upstream.Model, httpClient), nil
	default:
		return claude.NewClaudeProvider(cfg.Upstream.APIKey, cfg.Upstream.Model, cfg.Upstream.BaseURL, httpClient), nil
	}
}

func ollamaBaseURL(cfg *config.Config) string {
	if cfg.Upstream.BaseURL != "" {
		return cfg.Upstream.BaseURL
	}
	return ollama.DefaultBaseURL
}

// noUpstream は上流モデルを使わないコマンド用
type noUpstream struct{}

func (noUpstream) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrUpstreamTerminal, errNoUpstream)
}

// taskRepository はタスク一覧だけを扱うコマンド用（DBや上流モデルは開かない）
func taskRepository() *taskrepo.JSONTaskRepository {
	return taskrepo.NewJSONTaskRepository(cfg.Tasks.File)
}
