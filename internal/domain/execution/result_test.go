package execution

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFailedFormatting(t *testing.T) {
	r := Failed("delete", "Permission denied")

	if r.Success {
		t.Error("Failed result should not be successful")
	}
	if r.Formatted != "❌ Permission denied" {
		t.Errorf("Unexpected formatted text %q", r.Formatted)
	}
}

func TestFromError(t *testing.T) {
	err := fmt.Errorf("%w: notes.txt", ErrNotFound)
	r := FromError("file", err)

	if !strings.Contains(r.Formatted, "not found") || !strings.HasPrefix(r.Formatted, "❌") {
		t.Errorf("Expected not found annotation, got %q", r.Formatted)
	}

	r = FromError("file", fmt.Errorf("%w: /etc/passwd", ErrOutsideWorkspace))
	if strings.Contains(r.Formatted, "/etc/passwd") {
		t.Errorf("Outside workspace message should not echo the path, got %q", r.Formatted)
	}
}

func TestRejectedKeepsCause(t *testing.T) {
	r := Rejected("delete", fmt.Errorf("%w: @delete in chat mode", ErrPermissionDenied), "Permission denied: @delete requires autonomous mode")

	if r.Success {
		t.Fatal("Rejected result must not succeed")
	}
	if !errors.Is(r.Cause, ErrPermissionDenied) {
		t.Errorf("Expected cause to wrap ErrPermissionDenied, got %v", r.Cause)
	}
	if r.Formatted != "❌ Permission denied: @delete requires autonomous mode" {
		t.Errorf("Rejected should keep the display text, got %q", r.Formatted)
	}

	r = FromError("file", fmt.Errorf("%w: missing.txt", ErrNotFound))
	if !errors.Is(r.Cause, ErrNotFound) {
		t.Errorf("FromError should keep the adapter error as cause, got %v", r.Cause)
	}
	if Succeeded("file", "x", "x").Cause != nil {
		t.Error("Succeeded result must have no cause")
	}
}

func TestBatch(t *testing.T) {
	b := NewBatch()

	if b.SuccessRate() != 0.0 {
		t.Errorf("Empty batch success rate should be 0, got %f", b.SuccessRate())
	}

	b.Add(Succeeded("file", "hello", "📄 File: a.txt"))
	b.Add(Failed("delete", "denied"))

	if b.Executed != 2 || b.Failed != 1 || !b.HasFailures() {
		t.Errorf("Unexpected counts: %+v", b)
	}
	if b.SuccessRate() != 0.5 {
		t.Errorf("Expected success rate 0.5, got %f", b.SuccessRate())
	}
	if b.Render() != "📄 File: a.txt\n\n❌ denied" {
		t.Errorf("Unexpected render %q", b.Render())
	}
}
