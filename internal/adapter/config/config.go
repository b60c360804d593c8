package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// Config はアプリケーション全体の設定
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Containers ContainersConfig `yaml:"containers"`
	Store      StoreConfig      `yaml:"store"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Session    SessionConfig    `yaml:"session"`
	Log        LogConfig        `yaml:"log"`
	Prompt     PromptConfig     `yaml:"prompt"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Host            string        `yaml:"host" env:"PORTALCLAW_SERVER_HOST"`
	Port            int           `yaml:"port" env:"PORTALCLAW_SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PORTALCLAW_SERVER_SHUTDOWN_TIMEOUT"`
}

// UpstreamConfig は上流モデル設定
type UpstreamConfig struct {
	Provider     string        `yaml:"provider" env:"PORTALCLAW_UPSTREAM_PROVIDER"` // claude | openai | deepseek | ollama
	Model        string        `yaml:"model" env:"PORTALCLAW_UPSTREAM_MODEL"`
	BaseURL      string        `yaml:"base_url" env:"PORTALCLAW_UPSTREAM_BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"PORTALCLAW_UPSTREAM_API_KEY"` // 環境変数から読み込み推奨
	MaxTokens    int           `yaml:"max_tokens" env:"PORTALCLAW_UPSTREAM_MAX_TOKENS"`
	HistoryTurns int           `yaml:"history_turns" env:"PORTALCLAW_UPSTREAM_HISTORY_TURNS"`
	MaxAttempts  int           `yaml:"max_attempts" env:"PORTALCLAW_UPSTREAM_MAX_ATTEMPTS"`
	BaseDelay    time.Duration `yaml:"base_delay" env:"PORTALCLAW_UPSTREAM_BASE_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"PORTALCLAW_UPSTREAM_MAX_DELAY"`
	Timeout      time.Duration `yaml:"timeout" env:"PORTALCLAW_UPSTREAM_TIMEOUT"`
}

// WorkspaceConfig はファイル操作とシェル実行の設定
type WorkspaceConfig struct {
	Dir          string        `yaml:"dir" env:"PORTALCLAW_WORKSPACE_DIR"`
	Prefix       string        `yaml:"prefix" env:"PORTALCLAW_WORKSPACE_PREFIX"`
	ShellEnabled bool          `yaml:"shell_enabled" env:"PORTALCLAW_WORKSPACE_SHELL_ENABLED"`
	ShellTimeout time.Duration `yaml:"shell_timeout" env:"PORTALCLAW_WORKSPACE_SHELL_TIMEOUT"`
}

// ContainersConfig はコンテナランタイム設定
type ContainersConfig struct {
	Enabled bool          `yaml:"enabled" env:"PORTALCLAW_CONTAINERS_ENABLED"`
	Binary  string        `yaml:"binary" env:"PORTALCLAW_CONTAINERS_BINARY"`
	Timeout time.Duration `yaml:"timeout" env:"PORTALCLAW_CONTAINERS_TIMEOUT"`
}

// StoreConfig は監査ストア（SQLite）設定
type StoreConfig struct {
	Path string `yaml:"path" env:"PORTALCLAW_STORE_PATH"`
}

// TasksConfig はバックグラウンドタスク設定
type TasksConfig struct {
	File     string        `yaml:"file" env:"PORTALCLAW_TASKS_FILE"`
	Poll     bool          `yaml:"poll" env:"PORTALCLAW_TASKS_POLL"` // serve と一緒にポーラーを動かすか
	Interval time.Duration `yaml:"interval" env:"PORTALCLAW_TASKS_INTERVAL"`
	Mode     string        `yaml:"mode" env:"PORTALCLAW_TASKS_MODE"`
	Timeout  time.Duration `yaml:"timeout" env:"PORTALCLAW_TASKS_TIMEOUT"`
}

// SessionConfig はセッション設定
type SessionConfig struct {
	StorageDir  string `yaml:"storage_dir" env:"PORTALCLAW_SESSION_STORAGE_DIR"`
	DefaultMode string `yaml:"default_mode" env:"PORTALCLAW_SESSION_DEFAULT_MODE"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" env:"PORTALCLAW_LOG_LEVEL"`
	Format string `yaml:"format" env:"PORTALCLAW_LOG_FORMAT"`
}

// PromptConfig はシステムプロンプト設定
type PromptConfig struct {
	Base string `yaml:"base" env:"PORTALCLAW_PROMPT_BASE"`
	File string `yaml:"file" env:"PORTALCLAW_PROMPT_FILE"` // 指定時は Base より優先
}

// LoadConfig は設定ファイルを読み込む
// path が空の場合はデフォルト値と環境変数だけで構成する
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// ファイル読み込み
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// YAMLパース
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	// 環境変数による上書き
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	// デフォルト値設定
	cfg.setDefaults()

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults はデフォルト値を設定
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Upstream.Provider == "" {
		c.Upstream.Provider = ProviderClaude
	}
	if c.Upstream.Model == "" {
		switch c.Upstream.Provider {
		case ProviderOpenAI:
			c.Upstream.Model = "gpt-4o-mini"
		case ProviderDeepSeek:
			c.Upstream.Model = "deepseek-chat"
		case ProviderOllama:
			c.Upstream.Model = "llama3.1"
		default:
			c.Upstream.Model = "claude-sonnet-4-20250514"
		}
	}
	if c.Upstream.BaseURL == "" && c.Upstream.Provider == ProviderDeepSeek {
		c.Upstream.BaseURL = DeepSeekBaseURL
	}
	if c.Upstream.MaxTokens == 0 {
		c.Upstream.MaxTokens = 4096
	}
	if c.Upstream.HistoryTurns == 0 {
		c.Upstream.HistoryTurns = 20
	}
	if c.Upstream.MaxAttempts == 0 {
		c.Upstream.MaxAttempts = 3
	}
	if c.Upstream.BaseDelay == 0 {
		c.Upstream.BaseDelay = time.Second
	}
	if c.Upstream.MaxDelay == 0 {
		c.Upstream.MaxDelay = 8 * time.Second
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 120 * time.Second
	}

	if c.Workspace.Dir == "" {
		c.Workspace.Dir = "./workspace"
	}
	if c.Workspace.Prefix == "" {
		c.Workspace.Prefix = "/workspace"
	}
	if c.Workspace.ShellTimeout == 0 {
		c.Workspace.ShellTimeout = 30 * time.Second
	}

	if c.Containers.Binary == "" {
		c.Containers.Binary = "docker"
	}
	if c.Containers.Timeout == 0 {
		c.Containers.Timeout = 30 * time.Second
	}

	if c.Store.Path == "" {
		c.Store.Path = "./data/portalclaw.db"
	}

	if c.Tasks.File == "" {
		c.Tasks.File = "./data/tasks.json"
	}
	if c.Tasks.Interval == 0 {
		c.Tasks.Interval = 5 * time.Second
	}
	if c.Tasks.Mode == "" {
		c.Tasks.Mode = mode.Hybrid.String()
	}

	if c.Session.StorageDir == "" {
		c.Session.StorageDir = "./data/sessions"
	}
	if c.Session.DefaultMode == "" {
		c.Session.DefaultMode = mode.Chat.String()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// loadFromEnv は環境変数から設定を読み込み
func (c *Config) loadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return err
	}

	// API キーはプロバイダー標準の環境変数も参照する（ファイルに平文保存しない）
	if c.Upstream.APIKey == "" {
		switch c.Upstream.Provider {
		case ProviderOpenAI:
			c.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderDeepSeek:
			c.Upstream.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		case "", ProviderClaude:
			c.Upstream.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	return nil
}

// プロバイダー名
const (
	ProviderClaude   = "claude"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek" // OpenAI 互換 API
	ProviderOllama   = "ollama"   // セルフホスト、API キー不要
)

// DeepSeekBaseURL は deepseek プロバイダーの既定エンドポイント
const DeepSeekBaseURL = "https://api.deepseek.com"

// NeedsAPIKey はプロバイダーが API キーを必要とするかを返す
func (u UpstreamConfig) NeedsAPIKey() bool {
	return u.Provider != ProviderOllama
}

// Validate は設定の妥当性を検証
func (c *Config) Validate() error {
	// サーバー設定検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	// 上流設定検証
	switch c.Upstream.Provider {
	case ProviderClaude, ProviderOpenAI, ProviderDeepSeek, ProviderOllama:
	default:
		return fmt.Errorf("unknown upstream provider: %q (must be claude, openai, deepseek or ollama)", c.Upstream.Provider)
	}
	if c.Upstream.Model == "" {
		return errors.New("upstream model is required")
	}
	if c.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream max_attempts must be >= 1, got %d", c.Upstream.MaxAttempts)
	}
	if c.Upstream.MaxDelay < c.Upstream.BaseDelay {
		return fmt.Errorf("upstream max_delay (%s) must not be shorter than base_delay (%s)", c.Upstream.MaxDelay, c.Upstream.BaseDelay)
	}

	if c.Workspace.Dir == "" {
		return errors.New("workspace dir is required")
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if c.Session.StorageDir == "" {
		return errors.New("session storage_dir is required")
	}

	// モード検証
	if _, err := mode.Parse(c.Session.DefaultMode); err != nil {
		return fmt.Errorf("session default_mode: %w", err)
	}
	if _, err := mode.Parse(c.Tasks.Mode); err != nil {
		return fmt.Errorf("tasks mode: %w", err)
	}
	if c.Tasks.Interval <= 0 {
		return fmt.Errorf("tasks interval must be positive, got %s", c.Tasks.Interval)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format: %q (must be json or console)", c.Log.Format)
	}

	return nil
}

// DefaultMode はセッションの既定モードを返す（Validate 済みが前提）
func (c *Config) DefaultMode() mode.OperatingMode {
	m, _ := mode.Parse(c.Session.DefaultMode)
	return m
}

// TaskMode はモード未指定タスクの動作モードを返す（Validate 済みが前提）
func (c *Config) TaskMode() mode.OperatingMode {
	m, _ := mode.Parse(c.Tasks.Mode)
	return m
}

// BasePrompt はシステムプロンプトのベースを返す
func (c *Config) BasePrompt() (string, error) {
	if c.Prompt.File == "" {
		return c.Prompt.Base, nil
	}
	data, err := os.ReadFile(c.Prompt.File)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return string(data), nil
}
