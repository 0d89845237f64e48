package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/assistant"
)

// newKeyCmd creates the `chatclaw key` command group for managing the
// remote API key in the OS keyring.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key in the OS keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the API key (prompted, hidden input)",
			RunE: func(_ *cobra.Command, _ []string) error {
				if !assistant.KeyringAvailable() {
					return fmt.Errorf("OS keyring not available; use the CHATCLAW_API_KEY env var instead")
				}
				key, err := assistant.PromptAPIKey()
				if err != nil {
					return err
				}
				if key == "" {
					return fmt.Errorf("empty API key")
				}
				if err := assistant.StoreAPIKey(key); err != nil {
					return fmt.Errorf("storing API key: %w", err)
				}
				fmt.Println("API key stored in the OS keyring.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the API key from the keyring",
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := assistant.DeleteAPIKey(); err != nil {
					return fmt.Errorf("removing API key: %w", err)
				}
				fmt.Println("API key removed from the OS keyring.")
				return nil
			},
		},
	)

	return cmd
}
