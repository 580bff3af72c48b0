// Package main provides the CLI entry point for fedorgpt, a Telegram bot
// that answers in chats through an OpenAI model.
//
// # Basic Usage
//
// Start the bot:
//
//	fedorgpt serve --config fedorgpt.yaml
//
// Inspect or edit the trigger policy without a running bot:
//
//	fedorgpt settings show
//	fedorgpt settings set-triggers --chat -1001234 messages,embeds
//
// # Environment Variables
//
// The config file may reference environment variables as ${NAME}:
//
//   - FEDORGPT_CONFIG: Path to configuration file (default: fedorgpt.yaml)
//   - TELEGRAM_BOT_TOKEN, OPENAI_API_KEY: conventional names for the secrets
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "fedorgpt.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fedorgpt",
		Short: "fedorgpt - a Telegram chat bot backed by OpenAI",
		Long: `fedorgpt watches Telegram chats and replies through an OpenAI model.

Which messages it answers is decided per chat and per user by trigger
policies that admins edit with bang directives or the settings command.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSettingsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fedorgpt %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath falls back to FEDORGPT_CONFIG, then the default name.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("FEDORGPT_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
