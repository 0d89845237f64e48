package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

// respondRequest is the inbound conversation turn.
type respondRequest struct {
	ExternalID        string                 `json:"external_id"`
	Role              string                 `json:"role,omitempty"`
	Messages          []assistant.Message    `json:"messages"`
	Product           *assistant.ProductInfo `json:"product,omitempty"`
	ForceRegeneration bool                   `json:"force_regeneration,omitempty"`
}

// respondResponse carries the generated reply. An empty reply with
// action=false means the engine decided no action was needed.
type respondResponse struct {
	Reply  string `json:"reply"`
	Action bool   `json:"action"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleRespond runs one orchestration call.
func (g *Gateway) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	start := time.Now()
	reply, err := g.assistant.GenerateResponse(r.Context(), assistant.GenerateRequest{
		ExternalID:        req.ExternalID,
		Messages:          req.Messages,
		Role:              assistant.Role(req.Role),
		Product:           req.Product,
		ForceRegeneration: req.ForceRegeneration,
	})
	if err != nil {
		g.logger.Error("respond failed",
			"external_id", req.ExternalID,
			"duration", time.Since(start).Round(time.Millisecond),
			"error", err,
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	g.logger.Info("respond completed",
		"external_id", req.ExternalID,
		"action", reply != "",
		"duration", time.Since(start).Round(time.Millisecond),
	)
	writeJSON(w, http.StatusOK, respondResponse{Reply: reply, Action: reply != ""})
}

// handleDiscover triggers an audio discovery scan.
func (g *Gateway) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	n, err := g.assistant.Discover(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"discovered": n})
}

// handleThreads reports registry and transcription statistics.
func (g *Gateway) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threads":       g.assistant.ThreadStats(),
		"transcription": g.assistant.TranscriptionStats(),
	})
}

// handleHealth is the liveness probe.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// statusForError maps engine errors onto HTTP statuses.
func statusForError(err error) int {
	var authErr *assistant.AuthError
	var timeoutErr *assistant.RunTimeoutError
	var runErr *assistant.RunFailedError

	switch {
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &runErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
