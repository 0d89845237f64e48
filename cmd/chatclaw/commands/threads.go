package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// newThreadsCmd creates the `chatclaw threads` command.
func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "Show thread registry statistics",
		RunE:  runThreads,
	}
}

func runThreads(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd, "error")

	cfg, err := resolveConfig(cmd, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := assistant.NewThreadRegistry(cfg.Registry, st, logger)
	stats := registry.Stats()

	fmt.Printf("Registered threads: %d\n", stats.Count)
	if stats.Count > 0 {
		fmt.Printf("Oldest: %s\n", stats.Oldest.Local().Format(time.RFC1123))
		fmt.Printf("Newest: %s\n", stats.Newest.Local().Format(time.RFC1123))
	}
	return nil
}
