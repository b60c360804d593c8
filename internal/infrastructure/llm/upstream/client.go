package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/domain/llm"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/metrics"
)

// Config は上流クライアントの設定
type Config struct {
	HistoryTurns   int           // 送信する直近の履歴件数
	MaxAttempts    int           // 初回を含む最大試行回数
	BaseDelay      time.Duration // 1回目のリトライ前の待ち時間
	MaxDelay       time.Duration // 待ち時間の上限
	AttemptTimeout time.Duration // 1回の呼び出しのタイムアウト
	MaxTokens      int
	DefaultModel   string
}

// DefaultConfig は既定の設定
func DefaultConfig() Config {
	return Config{
		HistoryTurns:   20,
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       8 * time.Second,
		AttemptTimeout: 120 * time.Second,
		MaxTokens:      4096,
	}
}

// Client は上流モデルの呼び出しを担当する
// 過負荷とレート制限（429/529）のみ指数バックオフでリトライし、それ以外は即座に失敗する
type Client struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient は新しいClientを作成
func NewClient(provider llm.Provider, cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("upstream"),
		sleep:    sleepContext,
	}
}

// Complete はシステムプロンプト・履歴・新しいメッセージを送り、応答を返す
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.ModelID
	if model == "" {
		model = c.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	preq := llm.ProviderRequest{
		System:    req.System,
		Messages:  BuildMessages(req.History, req.Message, c.cfg.HistoryTurns),
		ModelID:   model,
		MaxTokens: maxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.Response{}, fmt.Errorf("upstream call aborted: %w", err)
		}

		resp, err := c.send(ctx, preq)
		if err == nil {
			if strings.TrimSpace(resp.Text) == "" {
				metrics.RecordUpstreamAttempt("invalid")
				return llm.Response{}, llm.ErrInvalidResponse
			}
			metrics.RecordUpstreamAttempt("ok")
			metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
			if resp.ModelID == "" {
				resp.ModelID = model
			}
			return resp, nil
		}

		lastErr = err
		if !llm.IsTransient(err) {
			metrics.RecordUpstreamAttempt("terminal")
			c.logger.Warn("upstream.terminal",
				zap.String("provider", c.provider.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrUpstreamTerminal, err)
		}

		metrics.RecordUpstreamAttempt("transient")
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.Backoff(attempt)
		c.logger.Info("upstream.retry",
			zap.String("provider", c.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return llm.Response{}, fmt.Errorf("upstream retry aborted: %w", err)
		}
	}

	c.logger.Warn("upstream.exhausted",
		zap.String("provider", c.provider.Name()),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Error(lastErr))
	return llm.Response{}, fmt.Errorf("%w after %d attempts: %w", llm.ErrUpstreamTerminal, c.cfg.MaxAttempts, lastErr)
}

// Backoff は attempt 回目の失敗後に待つ時間を返す（BaseDelay * 2^(attempt-1)、上限 MaxDelay）
func (c *Client) Backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return delay
}

func (c *Client) send(ctx context.Context, req llm.ProviderRequest) (llm.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	return c.provider.Send(attemptCtx, req)
}

// BuildMessages は直近 limit 件の履歴と新しいメッセージからメッセージ列を組み立てる
// 不明な話者・空の本文は捨て、同じ話者が続く場合は連結し、先頭は必ず user にする
func BuildMessages(history []llm.Message, message string, limit int) []llm.Message {
	valid := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role, ok := llm.NormalizeRole(string(m.Role))
		if !ok || strings.TrimSpace(m.Content) == "" {
			continue
		}
		valid = append(valid, llm.Message{Role: role, Content: m.Content})
	}
	if limit > 0 && len(valid) > limit {
		valid = valid[len(valid)-limit:]
	}
	valid = append(valid, llm.Message{Role: llm.RoleUser, Content: message})

	out := make([]llm.Message, 0, len(valid))
	for _, m := range valid {
		if len(out) == 0 && m.Role != llm.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTerminal はターンを中断すべき上流エラーかを判定
func IsTerminal(err error) bool {
	return errors.Is(err, llm.ErrUpstreamTerminal) || errors.Is(err, llm.ErrInvalidResponse)
}
