// Package assistant – keyring.go provides credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving the API key:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (CHATCLAW_API_KEY, then OPENAI_API_KEY)
//  3. config.yaml value (least secure — plaintext on disk)
package assistant

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "chatclaw"

	// keyringAPIKey is the key name for the remote API key.
	keyringAPIKey = "api_key"
)

// StoreAPIKey saves the API key to the OS keyring.
func StoreAPIKey(value string) error {
	return keyring.Set(keyringService, keyringAPIKey, value)
}

// DeleteAPIKey removes the API key from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(keyringService, keyringAPIKey)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__chatclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey resolves the API key using the priority chain and
// updates the config in place with the resolved value.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if val, err := keyring.Get(keyringService, keyringAPIKey); err == nil && val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key resolved from OS keyring")
		return
	}

	for _, env := range []string{"CHATCLAW_API_KEY", "OPENAI_API_KEY"} {
		if val := os.Getenv(env); val != "" {
			cfg.API.APIKey = val
			logger.Debug("API key resolved from environment", "var", env)
			return
		}
	}

	if cfg.API.APIKey != "" {
		logger.Warn("API key is stored in plaintext config; " +
			"prefer 'chatclaw key set' or the CHATCLAW_API_KEY env var")
	}
}

// PromptAPIKey reads an API key from the terminal without echoing it.
func PromptAPIKey() (string, error) {
	fmt.Fprint(os.Stderr, "API key: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// MaskSecret replaces all but the last 4 characters of a secret for display.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
