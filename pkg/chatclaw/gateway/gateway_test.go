package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth", &assistant.AuthError{Err: errors.New("bad key")}, http.StatusBadGateway},
		{"timeout", &assistant.RunTimeoutError{ThreadID: "t", RunID: "r", Waited: time.Minute}, http.StatusGatewayTimeout},
		{"run failed", &assistant.RunFailedError{ThreadID: "t", RunID: "r", Status: "failed"}, http.StatusBadGateway},
		{"wrapped auth", errors.Join(errors.New("outer"), &assistant.AuthError{Err: errors.New("x")}), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	g := New(nil, assistant.ServerConfig{AuthToken: "secret"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.startedAt = time.Now()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := g.authMiddleware(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/v1/respond", "", http.StatusUnauthorized},
		{"wrong token", "/v1/respond", "Bearer nope", http.StatusUnauthorized},
		{"not bearer", "/v1/respond", "secret", http.StatusUnauthorized},
		{"valid token", "/v1/respond", "Bearer secret", http.StatusNoContent},
		{"health is public", "/health", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	g := New(nil, assistant.ServerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler := g.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 when no token configured", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	g := New(nil, assistant.ServerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.startedAt = time.Now().Add(-90 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("uptime missing")
	}
}
