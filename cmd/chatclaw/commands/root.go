// Package commands implements the chatclaw CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatclaw",
		Short: "chatclaw - AI autoresponder for marketplace chats",
		Long: `chatclaw answers marketplace chat threads through a remote AI
assistant service: it maps conversations to assistant threads, keeps
voice-message transcriptions in sync, and drives each reply run to
completion.

Examples:
  chatclaw serve
  chatclaw threads
  chatclaw key set`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newThreadsCmd(),
		newKeyCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config from --config or standard locations
// and resolves the API key chain.
func resolveConfig(cmd *cobra.Command, logger *slog.Logger) (*assistant.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = assistant.FindConfigFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found (create config.yaml or pass --config)")
	}

	cfg, err := assistant.LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	assistant.ResolveAPIKey(cfg, logger)
	return cfg, nil
}

// newLogger builds the slog logger used by every command.
func newLogger(cmd *cobra.Command, level string) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	logLevel := slog.LevelInfo
	switch {
	case verbose || level == "debug":
		logLevel = slog.LevelDebug
	case level == "warn":
		logLevel = slog.LevelWarn
	case level == "error":
		logLevel = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
