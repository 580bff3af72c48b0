package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/fedorgpt/internal/config"
	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/settings"
)

// buildSettingsCmd creates the "settings" command group. It edits the
// settings file directly; a running bot picks changes up on reload.
func buildSettingsCmd() *cobra.Command {
	var (
		configPath   string
		settingsPath string
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit trigger policies",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&settingsPath, "file", "", "Settings file (overrides storage.settings_path)")

	open := func(cmd *cobra.Command) (*settings.FileStore, error) {
		path := settingsPath
		if path == "" {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return nil, err
			}
			path = cfg.Storage.SettingsPath
		}
		return settings.OpenFile(path, nil)
	}

	cmd.AddCommand(buildSettingsShowCmd(open), buildSettingsSetTriggersCmd(open))
	return cmd
}

type storeOpener func(cmd *cobra.Command) (*settings.FileStore, error)

func buildSettingsShowCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the settings document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			doc, err := store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return printDocument(cmd.OutOrStdout(), doc)
		},
	}
}

func buildSettingsSetTriggersCmd(open storeOpener) *cobra.Command {
	var (
		chatRef  string
		userRef  string
		scopeRef string
	)

	cmd := &cobra.Command{
		Use:   "set-triggers <trigger,trigger,...>",
		Short: "Replace the triggers of a chat or user",
		Long: `Replace the trigger set of a chat (--chat) or of a user (--user).

User triggers apply in one chat (--scope <chat id>) or everywhere
(--scope global, the default). An empty list clears the entry; "blacklist"
makes the bot refuse the chat or user.`,
		Example: `  fedorgpt settings set-triggers --chat -1001234 messages,embeds
  fedorgpt settings set-triggers --user 42 --scope -1001234 blacklist
  fedorgpt settings set-triggers --user 42 ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := policy.ParseTriggers(args[0])
			if err != nil {
				return err
			}
			update, err := triggerUpdate(chatRef, userRef, scopeRef, set)
			if err != nil {
				return err
			}

			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Update(cmd.Context(), update); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Triggers set to %q\n", set.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&chatRef, "chat", "", "Chat id")
	cmd.Flags().StringVar(&userRef, "user", "", "User id")
	cmd.Flags().StringVar(&scopeRef, "scope", policy.GlobalKey, "Chat id the user triggers apply in, or global")
	return cmd
}

// triggerUpdate builds the document edit for exactly one of chat or user.
func triggerUpdate(chatRef, userRef, scopeRef string, set policy.TriggerSet) (func(*policy.Document) error, error) {
	if (chatRef == "") == (userRef == "") {
		return nil, fmt.Errorf("exactly one of --chat or --user is required")
	}

	if chatRef != "" {
		chatID, err := parseID("chat", chatRef)
		if err != nil {
			return nil, err
		}
		return func(doc *policy.Document) error {
			doc.UpdateChat(chatID, func(e *policy.Entry) { e.Triggers = set })
			return nil
		}, nil
	}

	userID, err := parseID("user", userRef)
	if err != nil {
		return nil, err
	}
	scope := policy.GlobalScope()
	if s := strings.TrimSpace(scopeRef); s != "" && s != policy.GlobalKey {
		chatID, err := parseID("scope", s)
		if err != nil {
			return nil, err
		}
		scope = policy.ChatScope(chatID, "")
	}
	return func(doc *policy.Document) error {
		doc.UpdateUser(userID, scope, func(e *policy.Entry) { e.Triggers = set })
		return nil
	}, nil
}

func parseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

func printDocument(w io.Writer, doc policy.Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}
