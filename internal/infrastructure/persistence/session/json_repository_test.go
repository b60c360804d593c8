package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/session"
)

func TestJSONSessionRepository_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	repo := NewJSONSessionRepository(tmpDir)

	sess := session.NewSession("20260301-http-abc", "http", mode.Hybrid)
	sess.SetModel("claude-sonnet-4-5")

	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := repo.Load(context.Background(), "20260301-http-abc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.ID() != sess.ID() {
		t.Errorf("Expected ID '%s', got '%s'", sess.ID(), loaded.ID())
	}
	if loaded.Channel() != "http" {
		t.Errorf("Expected channel 'http', got '%s'", loaded.Channel())
	}
	if loaded.Mode() != mode.Hybrid {
		t.Errorf("Expected mode hybrid, got %s", loaded.Mode())
	}
	if loaded.ModelID() != "claude-sonnet-4-5" {
		t.Errorf("Expected model preserved, got '%s'", loaded.ModelID())
	}
	if !loaded.CreatedAt().Equal(sess.CreatedAt()) {
		t.Error("CreatedAt should be preserved")
	}
}

func TestJSONSessionRepository_LoadNotFound(t *testing.T) {
	repo := NewJSONSessionRepository(t.TempDir())

	_, err := repo.Load(context.Background(), "nonexistent")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestJSONSessionRepository_RejectsTraversal(t *testing.T) {
	repo := NewJSONSessionRepository(t.TempDir())

	for _, id := range []string{"../escape", "a/b", "", ".hidden"} {
		if _, err := repo.Exists(context.Background(), id); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Expected ErrInvalidSessionID for %q, got %v", id, err)
		}
	}
}

func TestJSONSessionRepository_ExistsAndDelete(t *testing.T) {
	tmpDir := t.TempDir()
	repo := NewJSONSessionRepository(tmpDir)
	ctx := context.Background()

	sess := session.NewSession("test-session", "console", mode.Chat)
	if err := repo.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "test-session.json")); err != nil {
		t.Errorf("Expected session file: %v", err)
	}

	exists, err := repo.Exists(ctx, "test-session")
	if err != nil || !exists {
		t.Fatalf("Session should exist (err=%v)", err)
	}

	if err := repo.Delete(ctx, "test-session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = repo.Exists(ctx, "test-session")
	if exists {
		t.Error("Session should not exist after deletion")
	}

	// 存在しないセッションの削除はエラーにならない
	if err := repo.Delete(ctx, "test-session"); err != nil {
		t.Errorf("Deleting a missing session should succeed, got %v", err)
	}
}
