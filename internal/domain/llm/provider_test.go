package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &StatusError{Code: 429}, true},
		{"overloaded", &StatusError{Code: 529}, true},
		{"wrapped overloaded", fmt.Errorf("attempt 1: %w", &StatusError{Code: 529}), true},
		{"bad request", &StatusError{Code: 400}, false},
		{"server error", &StatusError{Code: 500}, false},
		{"plain error", errors.New("dial tcp: refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	if r, ok := NormalizeRole("human"); !ok || r != RoleUser {
		t.Errorf("Expected user role, got %q", r)
	}
	if r, ok := NormalizeRole("Assistant"); !ok || r != RoleAssistant {
		t.Errorf("Expected assistant role, got %q", r)
	}
	if _, ok := NormalizeRole("system"); ok {
		t.Error("system is not a conversation role")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 400, Body: "bad model"}
	if err.Error() != "upstream returned status 400: bad model" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
