package audit

import (
	"fmt"
	"strings"
	"time"
)

// FormatWindow はログ窓を会話向けのテキストにする
func FormatWindow(entries []Entry, window time.Duration) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No log entries in the last %s.", window)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Log entries in the last %s (%d):\n", window, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s [%s] %s: %s\n",
			e.Time.UTC().Format(time.RFC3339), e.Category, shortSession(e.SessionID), e.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPerformance は性能集計をテキストにする
func FormatPerformance(p Performance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance since %s\n", p.Since.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Turns: %d, tokens in/out: %d/%d\n", p.Turns, p.InputTokens, p.OutputTokens)
	if len(p.Directives) == 0 {
		b.WriteString("No directives executed.")
		return b.String()
	}
	for _, d := range p.Directives {
		rate := 0.0
		if d.Total > 0 {
			rate = float64(d.Total-d.Failures) / float64(d.Total) * 100
		}
		fmt.Fprintf(&b, "- @%s: %d runs, %d failed (%.0f%% ok)\n", d.Name, d.Total, d.Failures, rate)
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortSession(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
