package permission

import (
	"fmt"
	"sort"

	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// Tier は指示の分類
type Tier string

const (
	TierObservational Tier = "observational" // 参照系
	TierExecution     Tier = "execution"     // コンテナ内コマンド実行
	TierMutating      Tier = "mutating"      // 書き込み・削除・スクリプト実行
)

// Rule は指示名ごとの最低必要モード
// ChatSafe の参照系だけが Chat モードでも実行できる
type Rule struct {
	Name     string
	Tier     Tier
	MinMode  mode.OperatingMode
	ChatSafe bool
}

// Required は実際に必要なモードを返す
func (r Rule) Required() mode.OperatingMode {
	if r.ChatSafe && r.Tier == TierObservational {
		return mode.Chat
	}
	return r.MinMode
}

// Gate は (指示名, モード) から許可/拒否を決める
// 起動時に一度だけ構築し、以後は読み取り専用
type Gate struct {
	rules map[string]Rule
}

// NewGate はルール表から Gate を作成
func NewGate(rules []Rule) *Gate {
	g := &Gate{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		g.rules[r.Name] = r
	}
	return g
}

// NewDefaultGate は既定のルール表で Gate を作成
func NewDefaultGate() *Gate {
	return NewGate(DefaultRules())
}

// DefaultRules は既定のルール表
func DefaultRules() []Rule {
	observe := func(name string, chatSafe bool) Rule {
		return Rule{Name: name, Tier: TierObservational, MinMode: mode.Hybrid, ChatSafe: chatSafe}
	}
	mutate := func(name string) Rule {
		return Rule{Name: name, Tier: TierMutating, MinMode: mode.Autonomous}
	}

	return []Rule{
		// Chat でも実行できる参照系
		observe(directive.NameFile, true),
		observe(directive.NameRead, true),
		observe(directive.NameList, true),
		observe(directive.NameLs, true),
		observe(directive.NameAgents, true),

		// Hybrid 以上の参照系
		observe(directive.NameSearch, false),
		observe(directive.NameContainers, false),
		observe(directive.NameContainerLogs, false),
		observe(directive.NameCrew, false),
		observe(directive.NameTasks, false),
		observe(directive.NameLogs, false),
		observe(directive.NameMemory, false),
		observe(directive.NamePerformance, false),

		// コンテナ実行は Hybrid 以上
		{Name: directive.NameExec, Tier: TierExecution, MinMode: mode.Hybrid},

		// 変更系は Autonomous のみ
		mutate(directive.NameCreate),
		mutate(directive.NameEdit),
		mutate(directive.NameWrite),
		mutate(directive.NameAppend),
		mutate(directive.NameDelete),
		mutate(directive.NameShell),
		mutate(directive.NameUpdateAgent),
	}
}

// Known はルール表に登録された指示かを判定
func (g *Gate) Known(name string) bool {
	_, ok := g.rules[name]
	return ok
}

// Required は指示に必要なモードを返す
func (g *Gate) Required(name string) (mode.OperatingMode, bool) {
	r, ok := g.rules[name]
	if !ok {
		return mode.Autonomous, false
	}
	return r.Required(), true
}

// Allow は mode で name を実行してよいかを判定
// 未登録の指示は常に拒否
func (g *Gate) Allow(name string, m mode.OperatingMode) bool {
	required, ok := g.Required(name)
	if !ok {
		return false
	}
	return m.AtLeast(required)
}

// Allowed は mode で実行可能な指示名をソートして返す
func (g *Gate) Allowed(m mode.OperatingMode) []string {
	names := make([]string, 0, len(g.rules))
	for name := range g.rules {
		if g.Allow(name, m) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Denial は拒否時に会話へ返すメッセージ（アダプタの内部情報は含めない）
func (g *Gate) Denial(name string, m mode.OperatingMode) string {
	required, ok := g.Required(name)
	if !ok {
		return fmt.Sprintf("Permission denied: @%s is not an allowed command", name)
	}
	return fmt.Sprintf("Permission denied: @%s requires %s mode (current: %s)", name, required, m)
}
