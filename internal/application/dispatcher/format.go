package dispatcher

import (
	"fmt"
	"strings"

	"github.com/Nyukimin/portalclaw/internal/infrastructure/resource"
)

func fenced(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		s = "(no output)"
	}
	return "```\n" + s + "\n```"
}

func formatFile(path, content string) string {
	return fmt.Sprintf("📄 File: %s\n%s", path, fenced(content))
}

func formatDirectory(path string, entries []string) string {
	if len(entries) == 0 {
		return fmt.Sprintf("📁 Directory: %s (empty)", path)
	}
	return fmt.Sprintf("📁 Directory: %s\n%s", path, strings.Join(entries, "\n"))
}

func formatHits(hits []resource.SearchHit, truncated bool) string {
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s:%d: %s\n", h.Path, h.Line, h.Text)
	}
	if truncated {
		b.WriteString("(results truncated)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSearch(query string, n int, body string) string {
	if n == 0 {
		return fmt.Sprintf("🔍 No matches for %q", query)
	}
	return fmt.Sprintf("🔍 %d matches for %q\n%s", n, query, body)
}

func formatContainers(list []resource.ContainerInfo) string {
	if len(list) == 0 {
		return "No containers."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Containers (%d):", len(list))
	for _, c := range list {
		fmt.Fprintf(&b, "\n- %s %s [%s] %s", c.Names, c.Image, c.State, c.Status)
	}
	return b.String()
}
