// Package source defines the boundary interfaces to the conversation
// source collaborator: audio payload retrieval and fire-and-forget
// progress notifications. The engine depends only on these interfaces;
// concrete channel integrations live outside this module.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// AudioProvider supplies raw audio payloads by locator and, optionally,
// a listing of audio resources discoverable right now.
type AudioProvider interface {
	// ListAudio returns the locators of all audio resources currently
	// visible to the provider. Providers without a browsable surface
	// may return an empty slice.
	ListAudio(ctx context.Context) ([]string, error)

	// FetchAudio downloads the binary payload for a locator.
	// The returned filename carries the extension hint for transcription.
	FetchAudio(ctx context.Context, locator string) (data []byte, filename string, err error)
}

// Notifier receives progress events from the engine. Fire-and-forget;
// implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// ---------- Implementations ----------

// HTTPAudioProvider fetches audio payloads over plain HTTP, treating
// locators as URLs. It has no browsable listing.
type HTTPAudioProvider struct {
	Client *http.Client
}

// NewHTTPAudioProvider creates a provider with a bounded request timeout.
func NewHTTPAudioProvider(timeout time.Duration) *HTTPAudioProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAudioProvider{
		Client: &http.Client{Timeout: timeout},
	}
}

// ListAudio returns nothing: URL locators arrive with the messages that
// reference them, there is no separate surface to scan.
func (p *HTTPAudioProvider) ListAudio(_ context.Context) ([]string, error) {
	return nil, nil
}

// FetchAudio downloads the payload at the locator URL.
func (p *HTTPAudioProvider) FetchAudio(ctx context.Context, locator string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating audio request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching audio %q: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching audio %q: HTTP %d", locator, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading audio %q: %w", locator, err)
	}

	return data, filenameForMime(resp.Header.Get("Content-Type")), nil
}

// filenameForMime maps common audio content types to a filename hint.
func filenameForMime(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg", "application/ogg":
		return "audio.ogg"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/mp4", "audio/m4a":
		return "audio.m4a"
	default:
		return "audio.webm"
	}
}

// LogNotifier writes notifications to the structured log. Used as the
// default when no real notification collaborator is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the event text.
func (n *LogNotifier) Notify(_ context.Context, text string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "text", text)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, string) {}

// NullAudioProvider is the null-object provider for deployments without
// audio support: nothing listed, every fetch fails.
type NullAudioProvider struct{}

// ListAudio returns no locators.
func (NullAudioProvider) ListAudio(context.Context) ([]string, error) { return nil, nil }

// FetchAudio always fails.
func (NullAudioProvider) FetchAudio(_ context.Context, locator string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("no audio provider configured (locator %q)", locator)
}
