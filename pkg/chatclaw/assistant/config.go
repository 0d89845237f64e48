// Package assistant – config.go defines the configuration structures
// for the chatclaw engine.
package assistant

import "time"

// Config holds all engine configuration.
type Config struct {
	// Name is the assistant name used in logs and notifications.
	Name string `yaml:"name"`

	// Role is the default conversation role: "seller" or "buyer".
	Role Role `yaml:"role"`

	// API configures the remote assistant endpoint.
	API APIConfig `yaml:"api"`

	// Run configures the run polling loop.
	Run RunConfig `yaml:"run"`

	// Transcription configures the audio transcription coordinator.
	Transcription TranscriptionConfig `yaml:"transcription"`

	// Formatter configures message batching.
	Formatter FormatterConfig `yaml:"formatter"`

	// Registry configures the thread registry and its sweep.
	Registry RegistryConfig `yaml:"registry"`

	// Database is the path to the SQLite database file.
	Database string `yaml:"database"`

	// Server configures the HTTP ingress for serve mode.
	Server ServerConfig `yaml:"server"`

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`
}

// APIConfig configures the remote assistant API client.
type APIConfig struct {
	// BaseURL is the API base (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Prefer ${CHATCLAW_API_KEY} or the
	// OS keyring over a plaintext value here.
	APIKey string `yaml:"api_key"`

	// AssistantID is the remote assistant executed by each run.
	AssistantID string `yaml:"assistant_id"`

	// MaxRetries caps retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoffMs is the first retry delay; doubles per attempt.
	InitialBackoffMs int `yaml:"initial_backoff_ms"`

	// MaxBackoffMs caps the exponential backoff.
	MaxBackoffMs int `yaml:"max_backoff_ms"`

	// RequestTimeoutS bounds a single HTTP request.
	RequestTimeoutS int `yaml:"request_timeout_s"`
}

// RunConfig bounds the run completion wait.
type RunConfig struct {
	// MaxWaitMs is the ceiling for waiting on one run.
	MaxWaitMs int `yaml:"max_wait_ms"`

	// PollIntervalMs is the status poll cadence.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// TranscriptionConfig configures the transcription coordinator.
type TranscriptionConfig struct {
	// Model is the transcription model (e.g. "whisper-1").
	Model string `yaml:"model"`

	// Language is an optional language hint passed to the API.
	Language string `yaml:"language"`

	// CacheSize caps the number of cached transcripts; oldest completed
	// entries are evicted beyond it.
	CacheSize int `yaml:"cache_size"`

	// MaxWaitMs bounds the orchestrator's wait for pending jobs.
	MaxWaitMs int `yaml:"max_wait_ms"`

	// PollIntervalMs is the pending-job poll cadence.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Workers limits concurrent transcription jobs.
	Workers int `yaml:"workers"`

	// DiscoveryIntervalMin is the cadence of the periodic audio
	// discovery scan. 0 disables the scan.
	DiscoveryIntervalMin int `yaml:"discovery_interval_min"`
}

// FormatterConfig configures message batching.
type FormatterConfig struct {
	// MaxItemsPerChunk caps content entries per batch.
	MaxItemsPerChunk int `yaml:"max_items_per_chunk"`

	// MaxProductImages caps images in the product intro batch.
	MaxProductImages int `yaml:"max_product_images"`

	// MaxInitialMessages bounds history sent when a thread is created.
	MaxInitialMessages int `yaml:"max_initial_messages"`
}

// RegistryConfig configures thread retention.
type RegistryConfig struct {
	// InactivityTTLHours evicts threads idle longer than this.
	InactivityTTLHours int `yaml:"inactivity_ttl_hours"`

	// MaxAgeHours evicts threads older than this regardless of activity.
	MaxAgeHours int `yaml:"max_age_hours"`

	// SweepIntervalMin is the cadence of the eviction sweep.
	SweepIntervalMin int `yaml:"sweep_interval_min"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	// Address is the listen address (e.g. ":8091").
	Address string `yaml:"address"`

	// AuthToken, when set, is required as a Bearer token on API routes.
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "chatclaw",
		Role: RoleSeller,
		API: APIConfig{
			BaseURL:          "https://api.openai.com/v1",
			MaxRetries:       3,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
			RequestTimeoutS:  60,
		},
		Run: RunConfig{
			MaxWaitMs:      60000,
			PollIntervalMs: 1000,
		},
		Transcription: TranscriptionConfig{
			Model:                "whisper-1",
			CacheSize:            200,
			MaxWaitMs:            5000,
			PollIntervalMs:       500,
			Workers:              3,
			DiscoveryIntervalMin: 5,
		},
		Formatter: FormatterConfig{
			MaxItemsPerChunk:   10,
			MaxProductImages:   4,
			MaxInitialMessages: 30,
		},
		Registry: RegistryConfig{
			InactivityTTLHours: 72,
			MaxAgeHours:        24 * 14,
			SweepIntervalMin:   30,
		},
		Database: "chatclaw.db",
		Server: ServerConfig{
			Address: ":8091",
		},
		LogLevel: "info",
	}
}

// RunMaxWait returns the run wait ceiling as a duration.
func (c *Config) RunMaxWait() time.Duration {
	return time.Duration(c.Run.MaxWaitMs) * time.Millisecond
}

// RunPollInterval returns the run poll cadence as a duration.
func (c *Config) RunPollInterval() time.Duration {
	return time.Duration(c.Run.PollIntervalMs) * time.Millisecond
}

// TranscriptionMaxWait returns the pending-transcription wait ceiling.
func (c *Config) TranscriptionMaxWait() time.Duration {
	return time.Duration(c.Transcription.MaxWaitMs) * time.Millisecond
}

// TranscriptionPollInterval returns the pending-transcription poll cadence.
func (c *Config) TranscriptionPollInterval() time.Duration {
	return time.Duration(c.Transcription.PollIntervalMs) * time.Millisecond
}
