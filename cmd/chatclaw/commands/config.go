package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

// newConfigCmd creates the `chatclaw config` command that prints the
// resolved configuration with the API key masked.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE:  runConfig,
	}
}

func runConfig(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd, "error")

	cfg, err := resolveConfig(cmd, logger)
	if err != nil {
		return err
	}

	display := *cfg
	display.API.APIKey = assistant.MaskSecret(cfg.API.APIKey)
	display.Server.AuthToken = assistant.MaskSecret(cfg.Server.AuthToken)

	out, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
