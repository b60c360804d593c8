package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// DefaultBasePrompt は設定で上書きされない場合のベースプロンプト
const DefaultBasePrompt = "You are the operations assistant of a multi-tenant CRM portal. " +
	"Answer concisely and use directives when live data is needed."

// toolResultsHeader はツール出力をメッセージに付加する際の区切り
const toolResultsHeader = "--- Tool results ---"

// BuildSystemPrompt はベースプロンプトに動作モードと使える指示を付加する
func BuildSystemPrompt(base string, m mode.OperatingMode, allowed []string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultBasePrompt
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	fmt.Fprintf(&b, "\n\nOperating mode: %s.", m)

	if len(allowed) == 0 {
		b.WriteString("\nNo directives are available in this mode.")
		return b.String()
	}

	names := make([]string, len(allowed))
	for i, n := range allowed {
		names[i] = "@" + n
	}
	fmt.Fprintf(&b, "\nDirectives you may use: %s.", strings.Join(names, ", "))
	b.WriteString("\nWrite a directive as @name followed by its arguments. " +
		"File contents for @create, @edit, @write and @append go in a fenced block on the next line. " +
		"Results of directives in the user's message follow a \"" + toolResultsHeader + "\" line.")
	return b.String()
}

// appendResults はテキストの後ろにツール出力ブロックを付加する
func appendResults(text, rendered string) string {
	if rendered == "" {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + toolResultsHeader + "\n" + rendered
}
