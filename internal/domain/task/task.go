package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// ErrInvalidTransition は許されない状態遷移のエラー
var ErrInvalidTransition = errors.New("invalid task status transition")

// ErrTaskNotFound はタスクが見つからない場合のエラー
var ErrTaskNotFound = errors.New("task not found")

// Status はタスクの状態
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal は終了状態かを判定
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task はバックグラウンドで処理される指示を表す値オブジェクト
// 状態は pending → running → completed|failed の順にしか進まない
type Task struct {
	id         ID
	command    string
	status     Status
	sessionID  string
	mode       *mode.OperatingMode // 未指定ならポーラーの既定モード
	response   string
	errMessage string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewTask は新しいTaskを作成
func NewTask(id ID, command string, createdAt time.Time) Task {
	return Task{
		id:        id,
		command:   command,
		status:    StatusPending,
		createdAt: createdAt,
	}
}

// Snapshot は永続化用の全フィールド
type Snapshot struct {
	ID         string
	Command    string
	Status     Status
	SessionID  string
	Mode       string
	Response   string
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Reconstruct は永続化層から復元する際に使用
func Reconstruct(s Snapshot) (Task, error) {
	switch s.Status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
	default:
		return Task{}, fmt.Errorf("task %s: unknown status %q", s.ID, s.Status)
	}
	t := Task{
		id:         IDFromString(s.ID),
		command:    s.Command,
		status:     s.Status,
		sessionID:  s.SessionID,
		response:   s.Response,
		errMessage: s.Error,
		createdAt:  s.CreatedAt,
		startedAt:  s.StartedAt,
		finishedAt: s.FinishedAt,
	}
	if s.Mode != "" {
		m, err := mode.Parse(s.Mode)
		if err != nil {
			return Task{}, fmt.Errorf("task %s: %w", s.ID, err)
		}
		t.mode = &m
	}
	return t, nil
}

// Snapshot は永続化用の全フィールドを返す
func (t Task) Snapshot() Snapshot {
	s := Snapshot{
		ID:         t.id.String(),
		Command:    t.command,
		Status:     t.status,
		SessionID:  t.sessionID,
		Response:   t.response,
		Error:      t.errMessage,
		CreatedAt:  t.createdAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
	if t.mode != nil {
		s.Mode = t.mode.String()
	}
	return s
}

// ID はタスクIDを返す
func (t Task) ID() ID { return t.id }

// Command は指示テキストを返す
func (t Task) Command() string { return t.command }

// Status は状態を返す
func (t Task) Status() Status { return t.status }

// SessionID はセッションIDを返す
func (t Task) SessionID() string { return t.sessionID }

// Response は完了時の応答を返す
func (t Task) Response() string { return t.response }

// ErrorMessage は失敗時のエラーメッセージを返す
func (t Task) ErrorMessage() string { return t.errMessage }

// CreatedAt は作成時刻を返す
func (t Task) CreatedAt() time.Time { return t.createdAt }

// StartedAt は開始時刻を返す
func (t Task) StartedAt() time.Time { return t.startedAt }

// FinishedAt は終了時刻を返す
func (t Task) FinishedAt() time.Time { return t.finishedAt }

// Mode はタスク固有のモードを返す
func (t Task) Mode() (mode.OperatingMode, bool) {
	if t.mode == nil {
		return mode.Chat, false
	}
	return *t.mode, true
}

// WithMode はモードを設定した新しいTaskを返す
func (t Task) WithMode(m mode.OperatingMode) Task {
	t.mode = &m
	return t
}

// WithSession はセッションIDを設定した新しいTaskを返す
func (t Task) WithSession(sessionID string) Task {
	t.sessionID = sessionID
	return t
}

// Start は pending → running に遷移した新しいTaskを返す
func (t Task) Start(now time.Time) (Task, error) {
	if t.status != StatusPending {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusRunning)
	}
	t.status = StatusRunning
	t.startedAt = now
	return t, nil
}

// Complete は running → completed に遷移した新しいTaskを返す
func (t Task) Complete(response string, now time.Time) (Task, error) {
	if t.status != StatusRunning {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusCompleted)
	}
	t.status = StatusCompleted
	t.response = response
	t.finishedAt = now
	return t, nil
}

// Fail は running → failed に遷移した新しいTaskを返す
func (t Task) Fail(message string, now time.Time) (Task, error) {
	if t.status != StatusRunning {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusFailed)
	}
	t.status = StatusFailed
	t.errMessage = message
	t.finishedAt = now
	return t, nil
}

// Repository はタスク一覧の保存先
// Update は一覧全体を読み、fn の結果で置き換える操作を他の書き込みと直列に行う
type Repository interface {
	List(ctx context.Context) ([]Task, error)
	Update(ctx context.Context, fn func([]Task) ([]Task, error)) error
	Enqueue(ctx context.Context, t Task) error
}

// Summarize はタスク一覧の状態をテキストにする
func Summarize(tasks []Task) string {
	if len(tasks) == 0 {
		return "No tasks."
	}
	counts := make(map[Status]int)
	for _, t := range tasks {
		counts[t.status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tasks: %d total (pending=%d, running=%d, completed=%d, failed=%d)\n",
		len(tasks), counts[StatusPending], counts[StatusRunning], counts[StatusCompleted], counts[StatusFailed])
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s [%s] %s\n", t.id, t.status, truncate(oneLine(t.command), 60))
	}
	return strings.TrimRight(b.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
