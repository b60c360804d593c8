package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Role は会話メッセージの話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NormalizeRole は話者名を正規化する。不明な話者は false
func NormalizeRole(s string) (Role, bool) {
	switch s {
	case "user", "User", "USER", "human":
		return RoleUser, true
	case "assistant", "Assistant", "ASSISTANT", "ai", "model":
		return RoleAssistant, true
	}
	return "", false
}

// Message はLLMメッセージを表す
type Message struct {
	Role    Role
	Content string
}

// Request は上流モデルへの1回の問い合わせ
type Request struct {
	System    string
	History   []Message // 古い順
	Message   string    // 今回のユーザーメッセージ（ツール出力を付加済み）
	ModelID   string
	MaxTokens int
}

// Usage はトークン使用量
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response は上流モデルの応答
type Response struct {
	Text    string
	Usage   Usage
	ModelID string
}

// ProviderRequest はプロバイダーに渡す正規化済みリクエスト
// Messages は user/assistant の並びで、最後が今回のユーザーメッセージ
type ProviderRequest struct {
	System    string
	Messages  []Message
	ModelID   string
	MaxTokens int
}

// Provider は上流モデルAPIの抽象化
type Provider interface {
	Send(ctx context.Context, req ProviderRequest) (Response, error)
	Name() string
}

var (
	// ErrInvalidResponse は応答テキストが空の場合のエラー
	ErrInvalidResponse = errors.New("invalid response from upstream model")
	// ErrUpstreamTerminal はリトライしても回復しない上流エラー
	ErrUpstreamTerminal = errors.New("upstream model request failed")
)

// StatusError は上流APIの非2xx応答
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// StatusOverloaded は上流の過負荷（Anthropic API の 529）
const StatusOverloaded = 529

// IsTransient はリトライ対象のエラー（レート制限・過負荷）かを判定
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusTooManyRequests || se.Code == StatusOverloaded
}
