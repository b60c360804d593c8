package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/adapter/config"
	"github.com/Nyukimin/portalclaw/internal/application/dispatcher"
	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("PORTALCLAW_CONFIG", "")

	c, err := config.LoadConfig("")
	require.NoError(t, err)

	dir := t.TempDir()
	c.Store.Path = filepath.Join(dir, "data", "portalclaw.db")
	c.Session.StorageDir = filepath.Join(dir, "data", "sessions")
	c.Tasks.File = filepath.Join(dir, "data", "tasks.json")
	c.Workspace.Dir = filepath.Join(dir, "workspace")
	return c
}

func TestBuildDependencies_WithoutModel(t *testing.T) {
	c := testConfig(t)

	deps, err := buildDependencies(c, zap.NewNop(), false)
	require.NoError(t, err)
	defer deps.Close()

	require.NoError(t, os.WriteFile(filepath.Join(c.Workspace.Dir, "notes.txt"), []byte("hello"), 0o644))

	rendered, results := deps.Orchestrator.Execute(context.Background(), "@file notes.txt @create x.txt", dispatcher.Scope{
		SessionID: "cli",
		Mode:      mode.Chat,
	})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success, "create is not allowed in chat mode")
	assert.Contains(t, rendered, "hello")

	report := deps.Health.Run(context.Background())
	assert.True(t, report.Healthy(), "%+v", report)
	assert.NotContains(t, report.Checks, "upstream")
}

func TestBuildDependencies_TurnWithoutModelFails(t *testing.T) {
	c := testConfig(t)

	deps, err := buildDependencies(c, zap.NewNop(), false)
	require.NoError(t, err)
	defer deps.Close()

	_, err = deps.Orchestrator.HandleTurn(context.Background(), orchestrator.TurnRequest{Message: "hello", SessionID: "cli-1"})
	assert.ErrorIs(t, err, orchestrator.ErrTurnFailed)
	assert.ErrorIs(t, err, errNoUpstream)
}

func TestNewProvider(t *testing.T) {
	c := testConfig(t)

	c.Upstream.Provider = config.ProviderClaude
	c.Upstream.APIKey = ""
	_, err := newProvider(c)
	assert.Error(t, err, "claude requires an API key")

	c.Upstream.Provider = config.ProviderOllama
	c.Upstream.Model = "llama3.1"
	p, err := newProvider(c)
	require.NoError(t, err)
	assert.Equal(t, "ollama-llama3.1", p.Name())

	c.Upstream.Provider = config.ProviderDeepSeek
	c.Upstream.Model = "deepseek-chat"
	c.Upstream.APIKey = "k"
	p, err = newProvider(c)
	require.NoError(t, err)
	assert.Equal(t, "openai-deepseek-chat", p.Name())
}
