package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrAgentNotFound はエージェントが見つからない場合のエラー
	ErrAgentNotFound = errors.New("agent not found")
	// ErrUnknownField は更新できないフィールドが指定された場合のエラー
	ErrUnknownField = errors.New("unknown agent field")
	// ErrEmptyPatch は更新内容が空の場合のエラー
	ErrEmptyPatch = errors.New("empty agent update")
)

// Agent はポータルに登録された AI エージェントのプロファイル
type Agent struct {
	ID          int64
	Name        string
	Role        string
	Crew        string
	Status      string
	Model       string
	Description string
	UpdatedAt   time.Time
}

// 部分更新で変更できるフィールド
const (
	FieldName        = "name"
	FieldRole        = "role"
	FieldCrew        = "crew"
	FieldStatus      = "status"
	FieldModel       = "model"
	FieldDescription = "description"
)

var patchable = map[string]bool{
	FieldName:        true,
	FieldRole:        true,
	FieldCrew:        true,
	FieldStatus:      true,
	FieldModel:       true,
	FieldDescription: true,
}

// Patch は部分更新の内容。指定されたフィールドだけを変更する
type Patch struct {
	fields map[string]string
}

// NewPatch は key/value からPatchを作成
// 未知のキーは ErrUnknownField、空なら ErrEmptyPatch
func NewPatch(values map[string]string) (Patch, error) {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		key := strings.ToLower(strings.TrimSpace(k))
		if !patchable[key] {
			return Patch{}, fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
		fields[key] = v
	}
	if len(fields) == 0 {
		return Patch{}, ErrEmptyPatch
	}
	return Patch{fields: fields}, nil
}

// Fields は変更するフィールド名をソートして返す
func (p Patch) Fields() []string {
	names := make([]string, 0, len(p.fields))
	for k := range p.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Value はフィールドの新しい値を返す
func (p Patch) Value(field string) (string, bool) {
	v, ok := p.fields[field]
	return v, ok
}

// Apply はパッチを適用した新しいAgentを返す。UpdatedAt は常に now になる
func (p Patch) Apply(a Agent, now time.Time) Agent {
	for k, v := range p.fields {
		switch k {
		case FieldName:
			a.Name = v
		case FieldRole:
			a.Role = v
		case FieldCrew:
			a.Crew = v
		case FieldStatus:
			a.Status = v
		case FieldModel:
			a.Model = v
		case FieldDescription:
			a.Description = v
		}
	}
	a.UpdatedAt = now
	return a
}

// String は更新内容を "key=value" 形式で返す（監査ログ用）
func (p Patch) String() string {
	parts := make([]string, 0, len(p.fields))
	for _, k := range p.Fields() {
		parts = append(parts, k+"="+p.fields[k])
	}
	return strings.Join(parts, " ")
}

// Repository はエージェントの保存先
type Repository interface {
	List(ctx context.Context) ([]Agent, error)
	Get(ctx context.Context, id int64) (Agent, error)
	Create(ctx context.Context, a Agent) (Agent, error)
	Update(ctx context.Context, id int64, p Patch) (Agent, error)
}

// FormatList はエージェント一覧をテキストにする
func FormatList(agents []Agent) string {
	if len(agents) == 0 {
		return "No agents registered."
	}
	sorted := append([]Agent(nil), agents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	fmt.Fprintf(&b, "Agents (%d):\n", len(sorted))
	for _, a := range sorted {
		fmt.Fprintf(&b, "- #%d %s [%s] role=%s crew=%s model=%s\n",
			a.ID, a.Name, orDash(a.Status), orDash(a.Role), orDash(a.Crew), orDash(a.Model))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatCrews はクルー（チーム）ごとの状態をテキストにする
func FormatCrews(agents []Agent) string {
	if len(agents) == 0 {
		return "No crews."
	}
	crews := make(map[string][]Agent)
	for _, a := range agents {
		crews[orDash(a.Crew)] = append(crews[orDash(a.Crew)], a)
	}
	names := make([]string, 0, len(crews))
	for name := range crews {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Crew status:\n")
	for _, name := range names {
		members := crews[name]
		counts := make(map[string]int)
		for _, m := range members {
			counts[orDash(m.Status)]++
		}
		statuses := make([]string, 0, len(counts))
		for s, n := range counts {
			statuses = append(statuses, fmt.Sprintf("%s=%d", s, n))
		}
		sort.Strings(statuses)
		fmt.Fprintf(&b, "- %s: %d members (%s)\n", name, len(members), strings.Join(statuses, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
