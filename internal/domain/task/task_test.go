package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewTask(t *testing.T) {
	id := NewID(t0)
	task := NewTask(id, "@agents", t0)

	if !task.ID().Equals(id) {
		t.Errorf("Expected ID %s, got %s", id, task.ID())
	}
	if task.Status() != StatusPending {
		t.Errorf("Expected pending, got %s", task.Status())
	}
	if _, ok := task.Mode(); ok {
		t.Error("New task should not have a mode")
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask(NewID(t0), "@agents", t0)

	running, err := task.Start(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done, err := running.Complete("ok", t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if done.Status() != StatusCompleted || done.Response() != "ok" {
		t.Errorf("Unexpected completed task: %+v", done.Snapshot())
	}
	if !done.FinishedAt().After(done.StartedAt()) {
		t.Error("FinishedAt should be after StartedAt")
	}

	// 元の値は変更されない
	if task.Status() != StatusPending {
		t.Error("Original task should not be modified")
	}
}

func TestTaskTransitionsAreMonotonic(t *testing.T) {
	pending := NewTask(NewID(t0), "x", t0)
	running, _ := pending.Start(t0)
	failed, _ := running.Fail("boom", t0)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"complete pending", func() error { _, err := pending.Complete("", t0); return err }},
		{"fail pending", func() error { _, err := pending.Fail("", t0); return err }},
		{"start running", func() error { _, err := running.Start(t0); return err }},
		{"start failed", func() error { _, err := failed.Start(t0); return err }},
		{"complete failed", func() error { _, err := failed.Complete("", t0); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	task := NewTask(NewID(t0), "@tasks", t0).WithMode(mode.Hybrid).WithSession("s1")

	restored, err := Reconstruct(task.Snapshot())
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if m, ok := restored.Mode(); !ok || m != mode.Hybrid {
		t.Errorf("Expected hybrid mode, got %v (%v)", m, ok)
	}
	if restored.SessionID() != "s1" {
		t.Errorf("Expected session s1, got %s", restored.SessionID())
	}

	if _, err := Reconstruct(Snapshot{ID: "x", Status: "archived"}); err == nil {
		t.Error("Unknown status should be rejected")
	}
}

func TestSummarize(t *testing.T) {
	if Summarize(nil) != "No tasks." {
		t.Error("Unexpected empty summary")
	}

	a := NewTask(IDFromString("task-1"), "@agents", t0)
	b, _ := NewTask(IDFromString("task-2"), "long\n  command", t0).Start(t0)

	got := Summarize([]Task{a, b})
	if !strings.Contains(got, "pending=1, running=1") {
		t.Errorf("Unexpected counts: %q", got)
	}
	if !strings.Contains(got, "- task-2 [running] long command") {
		t.Errorf("Unexpected line: %q", got)
	}
}
