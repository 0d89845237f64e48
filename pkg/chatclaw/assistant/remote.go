// Package assistant – remote.go implements the client for the remote
// assistant service (OpenAI Assistants-style API): threads, messages,
// runs, and Whisper audio transcription. Stateless; owns retry/backoff
// and error classification for every call.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Run statuses reported by WaitForCompletion.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusTimeout    = "timeout"
)

// RunInfo is the state of one remote run, including the output messages
// fetched automatically when the run completes.
type RunInfo struct {
	RunID     string
	Status    string
	Output    []OutputMessage
	LastError string
}

// Terminal reports whether the run reached a final state.
func (r *RunInfo) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusTimeout:
		return true
	}
	return false
}

// OutputMessage is one message from the remote thread after a run.
type OutputMessage struct {
	Role string
	Text string
}

// RemoteClient talks to the remote assistant HTTP API.
type RemoteClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	transcriptionModel    string
	transcriptionLanguage string

	logger *slog.Logger
}

// NewRemoteClient creates a client from config.
func NewRemoteClient(cfg *Config, logger *slog.Logger) *RemoteClient {
	baseURL := strings.TrimRight(cfg.API.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := time.Duration(cfg.API.RequestTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &RemoteClient{
		baseURL:               baseURL,
		apiKey:                cfg.API.APIKey,
		httpClient:            &http.Client{Timeout: timeout},
		maxRetries:            cfg.API.MaxRetries,
		initialBackoff:        time.Duration(cfg.API.InitialBackoffMs) * time.Millisecond,
		maxBackoff:            time.Duration(cfg.API.MaxBackoffMs) * time.Millisecond,
		transcriptionModel:    cfg.Transcription.Model,
		transcriptionLanguage: cfg.Transcription.Language,
		logger:                logger.With("component", "remote"),
	}
}

// ---------- Wire Types (Assistants v2) ----------

type threadObject struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string        `json:"role"`
	Content []contentItem `json:"content"`
}

type contentItem struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLItem `json:"image_url,omitempty"`
}

type imageURLItem struct {
	URL string `json:"url"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"data"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// ---------- Public Methods ----------

// CreateThread creates a new remote thread and returns its id.
func (c *RemoteClient) CreateThread(ctx context.Context) (string, error) {
	var thread threadObject
	if err := c.doJSON(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	c.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// AddMessage appends one batch as a message to the remote thread.
func (c *RemoteClient) AddMessage(ctx context.Context, threadID string, batch Batch) error {
	req := messageRequest{Role: batch.Role}
	for _, part := range batch.Content {
		switch part.Type {
		case "text":
			req.Content = append(req.Content, contentItem{Type: "text", Text: part.Text})
		case "image_url":
			req.Content = append(req.Content, contentItem{
				Type:     "image_url",
				ImageURL: &imageURLItem{URL: part.ImageURL},
			})
		}
	}
	if len(req.Content) == 0 {
		return fmt.Errorf("refusing to append empty batch to thread %s", threadID)
	}

	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.doJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("appending message to thread %s: %w", threadID, err)
	}
	return nil
}

// CreateRun starts a run of the assistant against the thread.
func (c *RemoteClient) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	var run runObject
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	if err := c.doJSON(ctx, http.MethodPost, path, runRequest{AssistantID: assistantID}, &run); err != nil {
		return "", fmt.Errorf("creating run on thread %s: %w", threadID, err)
	}
	c.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	return run.ID, nil
}

// GetRunStatus fetches the current run state. When the run has
// completed, the thread's recent output messages are fetched as well.
func (c *RemoteClient) GetRunStatus(ctx context.Context, threadID, runID string) (*RunInfo, error) {
	var run runObject
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}

	info := &RunInfo{RunID: runID, Status: normalizeRunStatus(run.Status)}
	if run.LastError != nil {
		info.LastError = run.LastError.Message
	}

	if info.Status == RunStatusCompleted {
		output, err := c.fetchOutput(ctx, threadID)
		if err != nil {
			return nil, err
		}
		info.Output = output
	}
	return info, nil
}

// WaitForCompletion polls the run until it reaches a terminal state or
// maxWait elapses, in which case a RunInfo with status "timeout" is
// returned (no error: the timeout policy belongs to the caller).
func (c *RemoteClient) WaitForCompletion(ctx context.Context, threadID, runID string, maxWait, pollInterval time.Duration) (*RunInfo, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deadline := time.Now().Add(maxWait)

	for {
		info, err := c.GetRunStatus(ctx, threadID, runID)
		if err != nil {
			return nil, err
		}
		if info.Terminal() {
			return info, nil
		}

		if time.Now().After(deadline) {
			c.logger.Warn("run wait ceiling exceeded",
				"thread_id", threadID, "run_id", runID, "last_status", info.Status)
			return &RunInfo{RunID: runID, Status: RunStatusTimeout}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run %s: %w", runID, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// TranscribeAudio submits an audio payload for transcription and
// returns the transcript text.
func (c *RemoteClient) TranscribeAudio(ctx context.Context, audioData []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	model := c.transcriptionModel
	if model == "" {
		model = "whisper-1"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if c.transcriptionLanguage != "" {
		_ = w.WriteField("language", c.transcriptionLanguage)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	var out transcriptionResponse
	err = c.withRetry(ctx, "transcribe", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/audio/transcriptions", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.send(req, &out)
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", filename, err)
	}
	return strings.TrimSpace(out.Text), nil
}

// ---------- Internal ----------

// fetchOutput reads the most recent thread messages.
func (c *RemoteClient) fetchOutput(ctx context.Context, threadID string) ([]OutputMessage, error) {
	var list messageList
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=10", threadID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("fetching output of thread %s: %w", threadID, err)
	}

	out := make([]OutputMessage, 0, len(list.Data))
	for _, m := range list.Data {
		out = append(out, OutputMessage{
			Role: m.Role,
			Text: extractText(m.Content),
		})
	}
	return out, nil
}

// extractText handles both content shapes: a list of typed parts
// ([{type:"text",text:{value:...}}]) and a flat string.
func extractText(raw json.RawMessage) string {
	var parts []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" && p.Text.Value != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(p.Text.Value)
			}
		}
		return sb.String()
	}

	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat
	}
	return ""
}

// normalizeRunStatus maps remote statuses onto the client's enum.
// Cancelled/expired runs are reported as failed.
func normalizeRunStatus(status string) string {
	switch status {
	case "queued":
		return RunStatusQueued
	case "in_progress", "requires_action", "cancelling":
		return RunStatusInProgress
	case "completed":
		return RunStatusCompleted
	case "failed", "cancelled", "expired", "incomplete":
		return RunStatusFailed
	default:
		return status
	}
}

// doJSON performs one JSON API call with the retry policy applied.
func (c *RemoteClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	return c.withRetry(ctx, method+" "+path, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("OpenAI-Beta", "assistants=v2")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.send(req, out)
	})
}

// send executes the request and decodes the response, converting
// non-2xx statuses into *APIError for classification.
func (c *RemoteClient) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apierr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == 429 {
			apierr.RetryAfterSec = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return apierr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w (body: %s)", err, truncate(string(respBody), 200))
	}
	return nil
}

// parseRetryAfter handles both Retry-After forms: delay-seconds and
// HTTP-date. Returns 0 when the header is absent, unparsable, or in
// the past.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if sec, err := strconv.Atoi(header); err == nil && sec > 0 {
		return sec
	}
	if at, err := http.ParseTime(header); err == nil {
		if sec := int(time.Until(at).Seconds()); sec > 0 {
			return sec
		}
	}
	return 0
}

// withRetry runs fn with the uniform failure policy: auth errors fail
// immediately, other non-retryable API errors fail immediately, rate
// limits honor Retry-After, and network-class errors back off
// exponentially up to the retry cap. The last error is surfaced on
// exhaustion.
func (c *RemoteClient) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := c.initialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := c.maxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := backoff
		if apierr, ok := err.(*APIError); ok {
			kind := apierr.Kind()
			if kind == ErrKindAuth {
				return &AuthError{Err: apierr}
			}
			if !kind.Retryable() {
				return apierr
			}
			if kind == ErrKindRateLimit && apierr.RetryAfterSec > 0 {
				wait = time.Duration(apierr.RetryAfterSec) * time.Second
			}
		}
		// Non-API errors are network-class (connection reset, timeout)
		// and follow the same bounded backoff.

		if attempt >= c.maxRetries {
			break
		}

		c.logger.Warn("transient remote error, retrying",
			"op", op,
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry wait: %w", op, ctx.Err())
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, c.maxRetries+1, lastErr)
}
