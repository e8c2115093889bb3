package server

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestOriginPolicy verifies normalization and matching of the allow-list.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://Example.com", " https://chat.example:8443 ", "not-a-url", ""}, discardLogger())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"exact match", "http://example.com", true},
		{"case insensitive", "HTTP://EXAMPLE.COM", true},
		{"with port", "https://chat.example:8443", true},
		{"wrong scheme", "https://example.com", false},
		{"unlisted", "http://evil.example", false},
		{"missing", "", false},
		{"malformed", "://missing-scheme", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if err != nil {
				t.Fatal(err)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

// TestOriginPolicyWildcard verifies that "*" admits any well-formed origin.
func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, discardLogger())

	req, _ := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
	req.Header.Set("Origin", "https://anything.example")
	if !policy.allows(req) {
		t.Error("expected wildcard to allow origin")
	}

	req.Header.Del("Origin")
	if policy.allows(req) {
		t.Error("expected missing origin to be rejected even with wildcard")
	}
}
