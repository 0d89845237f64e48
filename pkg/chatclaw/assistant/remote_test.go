package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *RemoteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.API.BaseURL = srv.URL
	cfg.API.APIKey = "sk-test"
	cfg.API.MaxRetries = 2
	cfg.API.InitialBackoffMs = 1
	cfg.API.MaxBackoffMs = 5
	return NewRemoteClient(cfg, testLogger())
}

func TestCreateThread(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		fmt.Fprint(w, `{"id":"thread_abc"}`)
	}))

	id, err := client.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id != "thread_abc" {
		t.Errorf("id = %q", id)
	}
}

func TestAddMessageWireShape(t *testing.T) {
	t.Parallel()

	var captured messageRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"id":"msg_1"}`)
	}))

	batch := Batch{Role: "user", Content: []ContentPart{
		TextPart("hello"),
		ImagePart("https://example.com/p.png"),
	}}
	if err := client.AddMessage(context.Background(), "thread_1", batch); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if captured.Role != "user" || len(captured.Content) != 2 {
		t.Fatalf("captured = %+v", captured)
	}
	if captured.Content[0].Type != "text" || captured.Content[0].Text != "hello" {
		t.Errorf("text item = %+v", captured.Content[0])
	}
	if captured.Content[1].Type != "image_url" || captured.Content[1].ImageURL.URL != "https://example.com/p.png" {
		t.Errorf("image item = %+v", captured.Content[1])
	}
}

func TestAddMessageRefusesEmptyBatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	}))

	err := client.AddMessage(context.Background(), "thread_1", Batch{Role: "user"})
	if err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestRateLimitRetriedWithRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limit exceeded"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"thread_after_retry"}`)
	}))

	start := time.Now()
	id, err := client.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id != "thread_after_retry" {
		t.Errorf("id = %q", id)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if time.Since(start) < time.Second {
		t.Error("Retry-After header not honored")
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))

	_, err := client.CreateThread(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestBadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid assistant id"}}`)
	}))

	_, err := client.CreateRun(context.Background(), "thread_1", "asst_bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Kind() != ErrKindBadRequest {
		t.Errorf("kind = %v", apiErr.Kind())
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestServerErrorRetriedToExhaustion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.CreateThread(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls.Load())
	}
}

func TestWaitForCompletionPollsToCompleted(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/threads/thread_1/runs/"):
			status := "in_progress"
			if polls.Add(1) >= 3 {
				status = "completed"
			}
			fmt.Fprintf(w, `{"id":"run_1","status":"%s"}`, status)
		case r.URL.Path == "/threads/thread_1/messages":
			fmt.Fprint(w, `{"data":[
				{"role":"assistant","content":[{"type":"text","text":{"value":"Yes, still available."}}]},
				{"role":"user","content":[{"type":"text","text":{"value":"Is it available?"}}]}
			]}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	info, err := client.WaitForCompletion(context.Background(), "thread_1", "run_1", 2*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if info.Status != RunStatusCompleted {
		t.Fatalf("status = %q", info.Status)
	}
	if got := extractReply(info.Output); got != "Yes, still available." {
		t.Errorf("reply = %q", got)
	}
}

func TestWaitForCompletionCeiling(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"in_progress"}`)
	}))

	info, err := client.WaitForCompletion(context.Background(), "thread_1", "run_1", 50*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if info.Status != RunStatusTimeout {
		t.Errorf("status = %q, want timeout", info.Status)
	}
}

func TestGetRunStatusNormalizesAndCarriesError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"expired","last_error":{"code":"server_error","message":"backend gave up"}}`)
	}))

	info, err := client.GetRunStatus(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if info.Status != RunStatusFailed {
		t.Errorf("status = %q, want failed", info.Status)
	}
	if info.LastError != "backend gave up" {
		t.Errorf("LastError = %q", info.LastError)
	}
}

func TestTranscribeAudioMultipart(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Fatalf("content type = %q (%v)", mediaType, err)
		}

		mr := multipart.NewReader(r.Body, params["boundary"])
		fields := map[string]string{}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("reading part: %v", err)
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				fields["file"] = part.FileName() + ":" + string(data)
			} else {
				fields[part.FormName()] = string(data)
			}
		}

		if fields["file"] != "voice.ogg:fake-audio" {
			t.Errorf("file part = %q", fields["file"])
		}
		if fields["model"] != "whisper-1" {
			t.Errorf("model = %q", fields["model"])
		}
		fmt.Fprint(w, `{"text":"  I can come by at five.  "}`)
	}))

	text, err := client.TranscribeAudio(context.Background(), []byte("fake-audio"), "voice.ogg")
	if err != nil {
		t.Fatalf("TranscribeAudio: %v", err)
	}
	if text != "I can come by at five." {
		t.Errorf("text = %q", text)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)

	tests := []struct {
		name   string
		header string
		min    int
		max    int
	}{
		{"delay seconds", "7", 7, 7},
		{"http date", future, 80, 90},
		{"date in the past", past, 0, 0},
		{"garbage", "soon", 0, 0},
		{"empty", "", 0, 0},
		{"negative", "-3", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRetryAfter(tt.header)
			if got < tt.min || got > tt.max {
				t.Errorf("parseRetryAfter(%q) = %d, want in [%d, %d]", tt.header, got, tt.min, tt.max)
			}
		})
	}
}

func TestExtractTextShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"parts list", `[{"type":"text","text":{"value":"hello"}}]`, "hello"},
		{"multiple parts", `[{"type":"text","text":{"value":"a"}},{"type":"text","text":{"value":"b"}}]`, "a\nb"},
		{"flat string", `"plain content"`, "plain content"},
		{"non-text parts skipped", `[{"type":"image_file"},{"type":"text","text":{"value":"x"}}]`, "x"},
		{"garbage", `{"weird":true}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("extractText(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
