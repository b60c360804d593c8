package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID はタスクの一意識別子を表す値オブジェクト
type ID struct {
	value string
}

// NewID は新しいIDを生成
func NewID(now time.Time) ID {
	// フォーマット: task-YYYYMMDD-{UUID先頭8文字}
	return ID{
		value: fmt.Sprintf("task-%s-%s", now.Format("20060102"), uuid.New().String()[:8]),
	}
}

// IDFromString は文字列からIDを復元
func IDFromString(s string) ID {
	return ID{value: s}
}

// String はIDの文字列表現を返す
func (i ID) String() string {
	return i.value
}

// Equals は2つのIDが等しいかを判定
func (i ID) Equals(other ID) bool {
	return i.value == other.value
}

// IsZero はIDがゼロ値かを判定
func (i ID) IsZero() bool {
	return i.value == ""
}
