package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Nyukimin/portalclaw/internal/domain/llm"
)

const defaultMaxTokens = 4096

// ClaudeProvider はAnthropic Messages APIプロバイダーの実装
// リトライは上流クライアントが行うため、SDK のリトライは無効にする
type ClaudeProvider struct {
	client anthropic.Client
	model  string
}

// NewClaudeProvider は新しいClaudeProviderを作成
// baseURL が空なら SDK の既定値を使う
func NewClaudeProvider(apiKey, model, baseURL string, httpClient *http.Client) *ClaudeProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ClaudeProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Send は Messages API を1回呼び出す
func (p *ClaudeProvider) Send(ctx context.Context, req llm.ProviderRequest) (llm.Response, error) {
	model := req.ModelID
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return llm.Response{}, &llm.StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return llm.Response{}, fmt.Errorf("claude request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	respModel := string(msg.Model)
	if respModel == "" {
		respModel = model
	}
	return llm.Response{
		Text:    text.String(),
		ModelID: respModel,
		Usage: llm.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// Name はプロバイダー名を返す
func (p *ClaudeProvider) Name() string {
	return fmt.Sprintf("claude-%s", p.model)
}

// convertMessages はドメインメッセージをMessages APIフォーマットに変換
func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
