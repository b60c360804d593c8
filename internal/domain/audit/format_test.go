package audit

import (
	"strings"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    Category
		wantErr bool
	}{
		{"", "", false},
		{"chat", CategoryChat, false},
		{" Commands ", CategoryCommands, false},
		{"config", CategoryConfig, false},
		{"sessions", CategorySessions, false},
		{"billing", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatWindow(t *testing.T) {
	if got := FormatWindow(nil, time.Hour); !strings.Contains(got, "No log entries") {
		t.Errorf("Expected empty message, got %q", got)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := FormatWindow([]Entry{
		{Time: ts, Category: CategoryCommands, SessionID: "s1", Summary: "@file a.txt (success)"},
	}, time.Hour)

	if !strings.Contains(got, "2026-03-01T12:00:00Z [commands] s1: @file a.txt (success)") {
		t.Errorf("Unexpected window text %q", got)
	}
}

func TestFormatPerformance(t *testing.T) {
	got := FormatPerformance(Performance{
		Turns:        2,
		InputTokens:  100,
		OutputTokens: 40,
		Directives:   []DirectiveStats{{Name: "file", Total: 4, Failures: 1}},
	})

	if !strings.Contains(got, "tokens in/out: 100/40") {
		t.Errorf("Missing token totals: %q", got)
	}
	if !strings.Contains(got, "@file: 4 runs, 1 failed (75% ok)") {
		t.Errorf("Missing directive stats: %q", got)
	}
}
