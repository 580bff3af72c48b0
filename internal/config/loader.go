package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Secret environment variables consulted when the file leaves a secret empty.
const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvAPIKey   = "OPENAI_API_KEY"
	EnvBaseURL  = "OPENAI_BASE_URL"
)

// readFile decodes the file at path. YAML is the default; .json and .json5
// files are read as JSON5. ${VAR} references are expanded before decoding.
func readFile(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		// Round-trip through YAML so unknown keys are rejected the same way.
		if data, err = yaml.Marshal(raw); err != nil {
			return nil, fmt.Errorf("failed to serialize config: %w", err)
		}
	}
	return decodeYAML(data)
}

func decodeYAML(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

// applyEnvSecrets fills secrets the file left empty from the process
// environment, so a deployment can keep tokens out of the config file.
func applyEnvSecrets(cfg *Config) {
	fill := func(dst *string, env string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	fill(&cfg.Telegram.BotToken, EnvBotToken)
	fill(&cfg.OpenAI.APIKey, EnvAPIKey)
	fill(&cfg.OpenAI.BaseURL, EnvBaseURL)
}
