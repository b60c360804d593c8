package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Nyukimin/portalclaw/internal/domain/llm"
)

// OpenAIProvider はOpenAI互換 Chat Completions APIプロバイダーの実装
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider は新しいOpenAIProviderを作成
// baseURL を指定すると OpenAI 互換のエンドポイントにも接続できる
func NewOpenAIProvider(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIProvider {
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
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Send は Chat Completions API を1回呼び出す
func (p *OpenAIProvider) Send(ctx context.Context, req llm.ProviderRequest) (llm.Response, error) {
	model := req.ModelID
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return llm.Response{}, &llm.StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return llm.Response{}, fmt.Errorf("openai request failed: %w", err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return llm.Response{
		Text:    text,
		ModelID: respModel,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Name はプロバイダー名を返す
func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("openai-%s", p.model)
}

// convertMessages はドメインメッセージをOpenAI APIフォーマットに変換
func convertMessages(req llm.ProviderRequest) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	// OpenAI は system をメッセージ列の先頭で渡す
	if strings.TrimSpace(req.System) != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
