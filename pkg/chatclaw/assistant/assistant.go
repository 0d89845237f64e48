// Package assistant – assistant.go wires the engine components together
// and owns the process-lifecycle background tasks (registry sweep,
// audio discovery) via robfig/cron.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/source"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// Assistant is the assembled engine: one per process, with every
// component constructed once and passed by reference. No ambient
// globals.
type Assistant struct {
	cfg *Config

	store        *store.Store
	remote       *RemoteClient
	transcriber  *Transcriber
	registry     *ThreadRegistry
	formatter    *Formatter
	orchestrator *Orchestrator

	cron   *cron.Cron
	logger *slog.Logger
}

// New builds the engine. The audio provider and notifier are the
// external collaborator boundaries; nil values get null-object
// implementations.
func New(cfg *Config, provider source.AudioProvider, notifier source.Notifier, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.API.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (run 'chatclaw key set' or set CHATCLAW_API_KEY)")
	}
	if cfg.API.AssistantID == "" {
		return nil, fmt.Errorf("no assistant_id configured")
	}
	if notifier == nil {
		notifier = &source.LogNotifier{Logger: logger}
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	remote := NewRemoteClient(cfg, logger)
	transcriber := NewTranscriber(cfg.Transcription, remote, provider, notifier, st, logger)
	registry := NewThreadRegistry(cfg.Registry, st, logger)
	formatter := NewFormatter(cfg.Formatter, transcriber, logger)
	orchestrator := NewOrchestrator(cfg, remote, registry, formatter, transcriber, notifier, logger)

	return &Assistant{
		cfg:          cfg,
		store:        st,
		remote:       remote,
		transcriber:  transcriber,
		registry:     registry,
		formatter:    formatter,
		orchestrator: orchestrator,
		cron:         cron.New(),
		logger:       logger.With("component", "assistant"),
	}, nil
}

// Start registers and starts the periodic tasks. Idempotent per
// process: call once at init, Stop at shutdown.
func (a *Assistant) Start() error {
	sweepSpec := fmt.Sprintf("@every %dm", max(a.cfg.Registry.SweepIntervalMin, 1))
	if _, err := a.cron.AddFunc(sweepSpec, func() {
		a.registry.Sweep()
	}); err != nil {
		return fmt.Errorf("scheduling registry sweep: %w", err)
	}

	if interval := a.cfg.Transcription.DiscoveryIntervalMin; interval > 0 {
		discoverSpec := fmt.Sprintf("@every %dm", interval)
		if _, err := a.cron.AddFunc(discoverSpec, func() {
			if _, err := a.transcriber.Discover(context.Background()); err != nil {
				a.logger.Warn("audio discovery failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling audio discovery: %w", err)
		}
	}

	a.cron.Start()
	a.logger.Info("background tasks started",
		"sweep", sweepSpec,
		"discovery_min", a.cfg.Transcription.DiscoveryIntervalMin,
	)
	return nil
}

// Stop halts the background tasks and closes the store.
func (a *Assistant) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store failed", "error", err)
	}
	a.logger.Info("stopped")
}

// GenerateResponse runs one conversation turn. Audio locators in the
// request are enqueued for transcription before the orchestrator runs,
// so its bounded wait has live jobs to wait on.
func (a *Assistant) GenerateResponse(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Role == "" {
		req.Role = a.cfg.Role
	}

	var locators []string
	for _, m := range req.Messages {
		if m.HasAudio && m.Transcript == "" {
			locators = append(locators, m.AudioLocator)
		}
	}
	if n := a.transcriber.Enqueue(locators); n > 0 {
		a.logger.Debug("enqueued transcription jobs from request", "count", n)
	}

	return a.orchestrator.GenerateResponse(ctx, req)
}

// Discover triggers an immediate audio discovery scan.
func (a *Assistant) Discover(ctx context.Context) (int, error) {
	return a.transcriber.Discover(ctx)
}

// ThreadStats reports the registry contents.
func (a *Assistant) ThreadStats() ThreadStats {
	return a.registry.Stats()
}

// TranscriptionStats reports transcription job counts by status.
func (a *Assistant) TranscriptionStats() map[JobStatus]int {
	return a.transcriber.Stats()
}
