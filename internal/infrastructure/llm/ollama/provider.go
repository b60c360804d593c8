package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Nyukimin/portalclaw/internal/domain/llm"
)

// DefaultBaseURL はローカルの Ollama サーバー
const DefaultBaseURL = "http://localhost:11434"

const maxErrorBody = 4 << 10

// OllamaProvider はOllama Chat APIプロバイダーの実装
// セルフホストのモデルを上流として使う場合に選ぶ
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider は新しいOllamaProviderを作成
// タイムアウトは呼び出し側の context で制御する
func NewOllamaProvider(baseURL, model string, httpClient *http.Client) *OllamaProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		model:   model,
		client:  httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

// Send は /api/chat を非ストリーミングで1回呼び出す
func (p *OllamaProvider) Send(ctx context.Context, req llm.ProviderRequest) (llm.Response, error) {
	model := req.ModelID
	if model == "" {
		model = p.model
	}

	body := chatRequest{
		Model:    model,
		Messages: convertMessages(req),
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return llm.Response{}, &llm.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return llm.Response{}, fmt.Errorf("failed to decode response: %w", err)
	}

	respModel := out.Model
	if respModel == "" {
		respModel = model
	}
	return llm.Response{
		Text:    out.Message.Content,
		ModelID: respModel,
		Usage: llm.Usage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
		},
	}, nil
}

// Name はプロバイダー名を返す
func (p *OllamaProvider) Name() string {
	return fmt.Sprintf("ollama-%s", p.model)
}

// convertMessages はドメインメッセージを Ollama の messages 形式に変換
func convertMessages(req llm.ProviderRequest) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		out = append(out, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		out = append(out, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
