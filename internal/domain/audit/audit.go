package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// Status は実行結果の状態
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Category はログ窓の分類
type Category string

const (
	CategoryChat     Category = "chat"
	CategoryCommands Category = "commands"
	CategoryConfig   Category = "config"
	CategorySessions Category = "sessions"
)

// ParseCategory はカテゴリ名を解析する。空文字は全カテゴリ（"" を返す）
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CategoryChat, CategoryCommands, CategoryConfig, CategorySessions:
		return c, nil
	default:
		return "", fmt.Errorf("unknown log category: %q", s)
	}
}

// Sender は会話ターンの送り手
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Record は指示1件の実行記録（追記のみ）
type Record struct {
	ID        string
	SessionID string
	ModelID   string
	Mode      mode.OperatingMode
	Directive string // 元の指示テキスト
	Name      string
	Category  Category
	Status    Status
	Output    string
	Error     string
	CreatedAt time.Time
}

// Turn は会話の1発言
type Turn struct {
	ID        string
	SessionID string
	Sender    Sender
	Text      string
	ModelID   string
	CreatedAt time.Time
}

// SessionEvent はセッションに関するイベント（モード変更など）
type SessionEvent struct {
	ID        string
	SessionID string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// Usage はモデル呼び出し1回分のトークン使用量
type Usage struct {
	SessionID    string
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// Entry はログ窓の1行
type Entry struct {
	Time      time.Time
	Category  Category
	SessionID string
	Summary   string
}

// Query はログ窓の検索条件
type Query struct {
	Since     time.Time
	Category  Category // 空なら全カテゴリ
	SessionID string   // 空なら全セッション
	Limit     int
}

// DirectiveStats は指示名ごとの集計
type DirectiveStats struct {
	Name      string
	Total     int
	Failures  int
	LastRunAt time.Time
}

// Performance は実行性能の集計
type Performance struct {
	Since        time.Time
	Directives   []DirectiveStats
	Turns        int
	InputTokens  int64
	OutputTokens int64
}

// Recorder は実行記録の書き込み先
type Recorder interface {
	AppendRecord(ctx context.Context, r Record) error
}

// TurnStore は会話ターンの保存先
type TurnStore interface {
	AppendTurns(ctx context.Context, turns ...Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// Log はカテゴリ横断のログ窓
type Log interface {
	Window(ctx context.Context, q Query) ([]Entry, error)
}

// UsageStore はトークン使用量の保存先
type UsageStore interface {
	RecordUsage(ctx context.Context, u Usage) error
	Performance(ctx context.Context, since time.Time) (Performance, error)
}

// EventStore はセッションイベントの保存先
type EventStore interface {
	AppendEvent(ctx context.Context, e SessionEvent) error
}
