package execution

import (
	"errors"
	"fmt"
	"strings"
)

// アダプタ層のエラー分類。Dispatcher の境界で Result に変換される
var (
	ErrNotFound         = errors.New("not found")
	ErrWriteFailed      = errors.New("write failed")
	ErrOutsideWorkspace = errors.New("path outside workspace")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnavailable      = errors.New("resource unavailable")
	ErrCancelled        = errors.New("cancelled")
)

// Result は単一指示の実行結果
type Result struct {
	Name      string // 実行した指示名
	Success   bool   // 成功したか
	Output    string // 生の出力
	Error     string // エラーメッセージ（失敗時）
	Formatted string // 会話に差し込む整形済みブロック
	Cause     error  // 失敗の分類（errors.Is で判定する）。成功時は nil
}

// Succeeded は成功結果を作成
func Succeeded(name, output, formatted string) Result {
	return Result{
		Name:      name,
		Success:   true,
		Output:    output,
		Formatted: formatted,
	}
}

// Failed は失敗結果を作成。会話には "❌ ..." として差し込まれる
func Failed(name, message string) Result {
	return Result{
		Name:      name,
		Success:   false,
		Error:     message,
		Formatted: "❌ " + message,
	}
}

// Rejected は実行前に拒否された失敗結果を作成。message は会話に出す文言
func Rejected(name string, cause error, message string) Result {
	r := Failed(name, message)
	r.Cause = cause
	return r
}

// FromError はアダプタのエラーを失敗結果に変換
func FromError(name string, err error) Result {
	return Rejected(name, err, fmt.Sprintf("@%s failed: %s", name, Describe(err)))
}

// Describe はエラー分類に応じた短い説明を返す
func Describe(err error) string {
	if errors.Is(err, ErrOutsideWorkspace) {
		return "path is outside the workspace"
	}
	return err.Error()
}

// Batch は複数結果の集計
type Batch struct {
	Results  []Result
	Executed int
	Failed   int
}

// NewBatch は新しいBatchを作成
func NewBatch() *Batch {
	return &Batch{Results: make([]Result, 0)}
}

// Add は結果を追加
func (b *Batch) Add(r Result) {
	b.Results = append(b.Results, r)
	b.Executed++
	if !r.Success {
		b.Failed++
	}
}

// HasFailures は失敗があるかを判定
func (b *Batch) HasFailures() bool {
	return b.Failed > 0
}

// SuccessRate は成功率を返す（0.0 - 1.0）
func (b *Batch) SuccessRate() float64 {
	if b.Executed == 0 {
		return 0.0
	}
	return float64(b.Executed-b.Failed) / float64(b.Executed)
}

// Render は整形済みブロックを空行区切りで連結
func (b *Batch) Render() string {
	blocks := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Formatted != "" {
			blocks = append(blocks, r.Formatted)
		}
	}
	return strings.Join(blocks, "\n\n")
}
