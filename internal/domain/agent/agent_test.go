package agent

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewPatch(t *testing.T) {
	p, err := NewPatch(map[string]string{"Status": "idle", "role": "closer"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := p.Fields(); len(got) != 2 || got[0] != FieldRole || got[1] != FieldStatus {
		t.Errorf("Unexpected fields %v", got)
	}
	if p.String() != "role=closer status=idle" {
		t.Errorf("Unexpected patch string %q", p.String())
	}

	if _, err := NewPatch(map[string]string{"salary": "1"}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Expected ErrUnknownField, got %v", err)
	}
	if _, err := NewPatch(nil); !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("Expected ErrEmptyPatch, got %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := before.Add(time.Hour)
	a := Agent{ID: 1, Name: "Lead Bot", Role: "qualifier", Status: "active", UpdatedAt: before}

	p, _ := NewPatch(map[string]string{"status": "paused"})
	updated := p.Apply(a, now)

	if updated.Status != "paused" {
		t.Errorf("Expected status paused, got %s", updated.Status)
	}
	if updated.Role != "qualifier" || updated.Name != "Lead Bot" {
		t.Error("Unspecified fields must not change")
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt should be refreshed, got %v", updated.UpdatedAt)
	}
	if a.Status != "active" {
		t.Error("Original agent should not be modified")
	}
}

func TestFormatList(t *testing.T) {
	if FormatList(nil) != "No agents registered." {
		t.Error("Unexpected empty list text")
	}

	got := FormatList([]Agent{
		{ID: 2, Name: "B", Status: "idle"},
		{ID: 1, Name: "A", Status: "active", Crew: "sales"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 lines, got %q", got)
	}
	if !strings.HasPrefix(lines[1], "- #1 A [active]") {
		t.Errorf("Agents should be ordered by id, got %q", lines[1])
	}
}

func TestFormatCrews(t *testing.T) {
	got := FormatCrews([]Agent{
		{ID: 1, Crew: "sales", Status: "active"},
		{ID: 2, Crew: "sales", Status: "idle"},
		{ID: 3, Crew: "support", Status: "active"},
	})

	if !strings.Contains(got, "- sales: 2 members (active=1, idle=1)") {
		t.Errorf("Unexpected crew text %q", got)
	}
	if !strings.Contains(got, "- support: 1 members (active=1)") {
		t.Errorf("Unexpected crew text %q", got)
	}
}
