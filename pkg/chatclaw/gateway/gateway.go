// Package gateway provides the HTTP API ingress for chatclaw serve
// mode: conversation sources push message histories in, replies come
// back out.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

// Gateway is the HTTP API server wrapping the engine.
type Gateway struct {
	assistant *assistant.Assistant
	config    assistant.ServerConfig
	server    *http.Server
	startedAt time.Time
	logger    *slog.Logger
}

// New creates a Gateway.
func New(a *assistant.Assistant, cfg assistant.ServerConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8091"
	}
	return &Gateway{
		assistant: a,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
	}
}

// Start starts the HTTP server. Blocks until the listener fails or the
// server is shut down.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/v1/respond", g.handleRespond)
	mux.HandleFunc("/v1/discover", g.handleDiscover)
	mux.HandleFunc("/v1/threads", g.handleThreads)

	g.server = &http.Server{
		Addr:         g.config.Address,
		Handler:      g.authMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // respond calls wait on remote runs
	}

	g.logger.Info("gateway listening", "address", g.config.Address)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// authMiddleware enforces the configured bearer token on API routes.
// Health stays public.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.AuthToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || token != g.config.AuthToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
