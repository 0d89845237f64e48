package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/gateway"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/source"
)

// newServeCmd creates the `chatclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with the HTTP ingress",
		Long: `Start chatclaw as a daemon: the orchestration engine, its
background tasks (thread registry sweep, audio discovery), and the HTTP
API that conversation sources push message histories to.

Examples:
  chatclaw serve
  chatclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd, "")

	cfg, err := resolveConfig(cmd, logger)
	if err != nil {
		return err
	}
	logger = newLogger(cmd, cfg.LogLevel)

	provider := source.NewHTTPAudioProvider(30 * time.Second)
	engine, err := assistant.New(cfg, provider, &source.LogNotifier{Logger: logger}, logger)
	if err != nil {
		return err
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("starting background tasks: %w", err)
	}

	gw := gateway.New(engine, cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	logger.Info("chatclaw running",
		"address", cfg.Server.Address,
		"role", cfg.Role,
		"assistant_id", cfg.API.AssistantID,
	)

	// ── Wait for shutdown ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			engine.Stop()
			return fmt.Errorf("gateway failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", "error", err)
	}
	engine.Stop()
	return nil
}
