// Package config loads the fedorgpt configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
)

// Config is the main configuration structure for fedorgpt.
type Config struct {
	Version       int                 `yaml:"version"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Storage       StorageConfig       `yaml:"storage"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	LinkPreview   LinkPreviewConfig   `yaml:"link_preview"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`

	// OwnerID is the account allowed to run admin directives.
	OwnerID int64 `yaml:"owner_id"`

	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`
	ChatRateLimit        float64       `yaml:"chat_rate_limit"`
	ChatRateBurst        int           `yaml:"chat_rate_burst"`
	BufferSize           int           `yaml:"buffer_size"`
	MaxFileBytes         int64         `yaml:"max_file_bytes"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	EntityCacheTTL       time.Duration `yaml:"entity_cache_ttl"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	HistoryLimit int           `yaml:"history_limit"`

	VisionModel     string        `yaml:"vision_model"`
	VisionMaxTokens int           `yaml:"vision_max_tokens"`
	VisionTimeout   time.Duration `yaml:"vision_timeout"`
}

type StorageConfig struct {
	// SettingsPath is the JSON policy document edited by admin directives.
	SettingsPath string `yaml:"settings_path"`

	// DatabasePath is the sqlite file holding history and the journal.
	DatabasePath string `yaml:"database_path"`

	// JournalRetention is how long journaled messages are kept.
	JournalRetention time.Duration `yaml:"journal_retention"`

	// PruneSchedule is the cron expression the journal is pruned on.
	PruneSchedule string `yaml:"prune_schedule"`

	// WatchDebounce coalesces settings file change events.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type DispatchConfig struct {
	InvocationPrefix string        `yaml:"invocation_prefix"`
	ReplyMarker      string        `yaml:"reply_marker"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ExternalTimeout  time.Duration `yaml:"external_timeout"`
	TypingInterval   time.Duration `yaml:"typing_interval"`
	AnchorMaxDepth   int           `yaml:"anchor_max_depth"`

	// Timezone names the IANA zone of the clock shown to the model.
	Timezone string `yaml:"timezone"`
}

type LinkPreviewConfig struct {
	Disabled      bool          `yaml:"disabled"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxPageBytes  int64         `yaml:"max_page_bytes"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
	UserAgent     string        `yaml:"user_agent"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics and /healthz. Empty disables the server.
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Load reads, defaults and validates the configuration file at path.
// Secrets missing from the file are taken from the environment.
func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyEnvSecrets(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.OpenAI.VisionModel == "" {
		cfg.OpenAI.VisionModel = cfg.OpenAI.Model
	}
	if cfg.OpenAI.HistoryLimit == 0 {
		cfg.OpenAI.HistoryLimit = 50
	}
	if cfg.Storage.SettingsPath == "" {
		cfg.Storage.SettingsPath = "settings.json"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "fedorgpt.db"
	}
	if cfg.Storage.JournalRetention == 0 {
		cfg.Storage.JournalRetention = 30 * 24 * time.Hour
	}
	if cfg.Storage.PruneSchedule == "" {
		cfg.Storage.PruneSchedule = "@daily"
	}
	if cfg.Storage.WatchDebounce == 0 {
		cfg.Storage.WatchDebounce = 250 * time.Millisecond
	}
	if cfg.Dispatch.MaxConcurrent == 0 {
		cfg.Dispatch.MaxConcurrent = 16
	}
	if cfg.Dispatch.AnchorMaxDepth == 0 {
		cfg.Dispatch.AnchorMaxDepth = anchor.DefaultMaxDepth
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "fedorgpt"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		issues = append(issues, "telegram.bot_token is required")
	}
	if c.Telegram.OwnerID < 0 {
		issues = append(issues, "telegram.owner_id must be a user id")
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		issues = append(issues, "openai.api_key is required")
	}
	if c.OpenAI.HistoryLimit < 0 {
		issues = append(issues, "openai.history_limit must not be negative")
	}
	if c.Storage.JournalRetention < 0 {
		issues = append(issues, "storage.journal_retention must not be negative")
	}
	if _, err := cron.ParseStandard(c.Storage.PruneSchedule); err != nil {
		issues = append(issues, fmt.Sprintf("storage.prune_schedule: %v", err))
	}
	if c.Dispatch.MaxConcurrent < 0 {
		issues = append(issues, "dispatch.max_concurrent must not be negative")
	}
	if c.Dispatch.Timezone != "" {
		if _, err := time.LoadLocation(c.Dispatch.Timezone); err != nil {
			issues = append(issues, fmt.Sprintf("dispatch.timezone: %v", err))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Location returns the configured dispatch time zone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Dispatch.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Dispatch.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
