package mode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode は未知の動作モード文字列
var ErrUnknownMode = errors.New("unknown operating mode")

// OperatingMode はセッションごとの権限段階を表す型
// Chat < Hybrid < Autonomous の順に権限が強くなる
type OperatingMode int

const (
	Chat       OperatingMode = iota // 会話のみ（chat-safe な参照系だけ許可）
	Hybrid                          // 参照系 + コンテナ実行
	Autonomous                      // 書き込み・スクリプト実行を含む全操作
)

var names = map[OperatingMode]string{
	Chat:       "chat",
	Hybrid:     "hybrid",
	Autonomous: "autonomous",
}

// String はモードの文字列表現を返す
func (m OperatingMode) String() string {
	if s, ok := names[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// AtLeast は m が other 以上の権限を持つかを判定
func (m OperatingMode) AtLeast(other OperatingMode) bool {
	return m >= other
}

// Valid は定義済みのモードかを判定
func (m OperatingMode) Valid() bool {
	_, ok := names[m]
	return ok
}

// Parse は "chat|hybrid|autonomous" を OperatingMode に変換（大文字小文字無視）
func Parse(s string) (OperatingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chat":
		return Chat, nil
	case "hybrid":
		return Hybrid, nil
	case "autonomous":
		return Autonomous, nil
	}
	return Chat, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// All は権限の弱い順に全モードを返す
func All() []OperatingMode {
	return []OperatingMode{Chat, Hybrid, Autonomous}
}

// MarshalText は encoding.TextMarshaler を実装
func (m OperatingMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText は encoding.TextUnmarshaler を実装
func (m *OperatingMode) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
