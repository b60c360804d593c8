package session

import (
	"errors"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// ErrSessionNotFound はセッションが見つからない場合のエラー
var ErrSessionNotFound = errors.New("session not found")

// Session は会話セッションを表すエンティティ
// 動作モードとモデルを保持し、モード未指定のターンはセッションのモードで実行される
type Session struct {
	id        string             // セッションID
	channel   string             // 入口（http/console/task）
	mode      mode.OperatingMode // 動作モード
	modelID   string             // 既定モデル（空なら設定値）
	createdAt time.Time          // セッション作成時刻
	updatedAt time.Time          // 最終更新時刻
}

// NewSession は新しいセッションを作成
func NewSession(id, channel string, m mode.OperatingMode) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		channel:   channel,
		mode:      m,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructSession は永続化層から復元する際に使用（タイムスタンプを保持）
func ReconstructSession(id, channel string, m mode.OperatingMode, modelID string, createdAt, updatedAt time.Time) *Session {
	return &Session{
		id:        id,
		channel:   channel,
		mode:      m,
		modelID:   modelID,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Channel はチャネルを返す
func (s *Session) Channel() string {
	return s.channel
}

// Mode は動作モードを返す
func (s *Session) Mode() mode.OperatingMode {
	return s.mode
}

// ModelID は既定モデルを返す
func (s *Session) ModelID() string {
	return s.modelID
}

// CreatedAt は作成時刻を返す
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt は最終更新時刻を返す
func (s *Session) UpdatedAt() time.Time {
	return s.updatedAt
}

// SetMode は動作モードを変更し、変更前のモードを返す
func (s *Session) SetMode(m mode.OperatingMode) mode.OperatingMode {
	prev := s.mode
	s.mode = m
	s.updatedAt = time.Now()
	return prev
}

// SetModel は既定モデルを変更
func (s *Session) SetModel(modelID string) {
	s.modelID = modelID
	s.updatedAt = time.Now()
}

// Touch は最終更新時刻を更新
func (s *Session) Touch() {
	s.updatedAt = time.Now()
}
