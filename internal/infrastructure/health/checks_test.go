package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", PingCheck(fakePinger{}))
	c.Register("workspace", DirCheck(t.TempDir()))

	report := c.Run(context.Background())
	if !report.Healthy() {
		t.Errorf("Expected healthy report, got %+v", report)
	}
	if len(report.Checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(report.Checks))
	}
}

func TestChecker_Degraded(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", PingCheck(fakePinger{err: errors.New("database is locked")}))
	c.Register("workspace", DirCheck(t.TempDir()))

	report := c.Run(context.Background())
	if report.Status != "degraded" {
		t.Errorf("Expected status 'degraded', got '%s'", report.Status)
	}
	if got := report.Checks["store"]; got.OK || got.Message != "database is locked" {
		t.Errorf("Unexpected store result %+v", got)
	}
	if !report.Checks["workspace"].OK {
		t.Error("workspace check should still pass")
	}
}

func TestChecker_TimeoutApplied(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := c.Run(context.Background())
	if report.Checks["slow"].OK {
		t.Error("Expected slow check to fail on timeout")
	}
}

func TestChecker_RegisterReplaces(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("x", func(ctx context.Context) error { return errors.New("old") })
	c.Register("x", func(ctx context.Context) error { return nil })

	if report := c.Run(context.Background()); !report.Healthy() || len(report.Checks) != 1 {
		t.Errorf("Expected single healthy check, got %+v", report)
	}
}

func TestDirCheck_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DirCheck(file)(context.Background()); err == nil {
		t.Error("Expected error for regular file")
	}
	if err := DirCheck(filepath.Join(t.TempDir(), "missing"))(context.Background()); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestHTTPCheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := HTTPCheck(server.Client(), server.URL)(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestHTTPCheck_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := HTTPCheck(server.Client(), server.URL)(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected status 500 error, got %v", err)
	}
}

func TestHTTPCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := HTTPCheck(nil, url)(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("Expected unreachable error, got %v", err)
	}
}
