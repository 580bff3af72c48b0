package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/settings"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Chat references with special meaning.
const (
	RefHere   = "here"
	RefGlobal = policy.GlobalKey
)

// Families of the admin directives.
const (
	FamilyChat = "chat"
	FamilyUser = "user"
)

// EntityResolver looks up users and chats by numeric id or @username.
type EntityResolver interface {
	GetEntity(ctx context.Context, ref string) (models.Entity, error)
}

// Admin implements the policy editing directives.
type Admin struct {
	store    settings.Store
	entities EntityResolver
	logger   *slog.Logger
}

// NewAdmin creates the admin command set.
func NewAdmin(store settings.Store, entities EntityResolver, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		store:    store,
		entities: entities,
		logger:   logger.With("component", "commands.admin"),
	}
}

// Register adds the !chat.* and !user.* commands to r.
func (a *Admin) Register(r *Registry) error {
	cmds := []*Command{
		{
			Name:        "chat.triggers",
			Family:      FamilyChat,
			Description: "Replace the triggers of a chat",
			Usage:       "!chat.triggers <here|chat> <trigger,trigger,...>",
			MinArgs:     2,
			AdminOnly:   true,
			Handler:     a.chatTriggers,
		},
		{
			Name:        "chat.prompt",
			Family:      FamilyChat,
			Description: "Set the instruction overlay of a chat",
			Usage:       "!chat.prompt <here|chat> <text>",
			MinArgs:     1,
			AdminOnly:   true,
			Handler:     a.chatPrompt,
		},
		{
			Name:        "chat.settings",
			Family:      FamilyChat,
			Description: "Show the policy of a chat",
			Usage:       "!chat.settings <here|chat>",
			MinArgs:     1,
			AdminOnly:   true,
			Handler:     a.chatSettings,
		},
		{
			Name:        "user.triggers",
			Family:      FamilyUser,
			Description: "Replace the triggers of a user in a chat or globally",
			Usage:       "!user.triggers <user> <here|chat|global> <trigger,trigger,...>",
			MinArgs:     3,
			AdminOnly:   true,
			Handler:     a.userTriggers,
		},
		{
			Name:        "user.prompt",
			Family:      FamilyUser,
			Description: "Set the instruction overlay of a user in a chat or globally",
			Usage:       "!user.prompt <user> <here|chat|global> <text>",
			MinArgs:     2,
			AdminOnly:   true,
			Handler:     a.userPrompt,
		},
		{
			Name:        "user.settings",
			Family:      FamilyUser,
			Description: "Show the policy of a user",
			Usage:       "!user.settings <user> [here|chat|global]",
			MinArgs:     1,
			AdminOnly:   true,
			Handler:     a.userSettings,
		},
	}
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (a *Admin) chatTriggers(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, csv := inv.Fields(1)
	set, err := policy.ParseTriggers(csv)
	if err != nil {
		return validationResult(err), nil
	}
	chat, res := a.resolveChat(ctx, inv, fields[0])
	if res != nil {
		return res, nil
	}

	err = a.store.Update(ctx, func(doc *policy.Document) error {
		doc.UpdateChat(chat.ID, func(e *policy.Entry) { e.Triggers = set })
		return nil
	})
	if err != nil {
		return a.persistFailure(ctx, "chat.triggers", err), nil
	}
	a.logger.InfoContext(ctx, "chat triggers updated", "chat", chat.Label(), "chat_id", chat.ID, "triggers", set.String())
	return &Result{Ack: true}, nil
}

func (a *Admin) chatPrompt(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, prompt := inv.Fields(1)
	chat, res := a.resolveChat(ctx, inv, fields[0])
	if res != nil {
		return res, nil
	}

	err := a.store.Update(ctx, func(doc *policy.Document) error {
		doc.UpdateChat(chat.ID, func(e *policy.Entry) { e.Prompt = prompt })
		return nil
	})
	if err != nil {
		return a.persistFailure(ctx, "chat.prompt", err), nil
	}
	a.logger.InfoContext(ctx, "chat prompt updated", "chat", chat.Label(), "chat_id", chat.ID, "prompt_len", len(prompt))
	return &Result{Ack: true}, nil
}

func (a *Admin) chatSettings(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, _ := inv.Fields(1)
	chat, res := a.resolveChat(ctx, inv, fields[0])
	if res != nil {
		return res, nil
	}
	doc, err := a.store.Snapshot(ctx)
	if err != nil {
		return a.loadFailure(ctx, "chat.settings", err), nil
	}
	return settingsResult("Settings for chat "+chat.Label(), doc.Chat(chat.ID))
}

func (a *Admin) userTriggers(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, csv := inv.Fields(2)
	set, err := policy.ParseTriggers(csv)
	if err != nil {
		return validationResult(err), nil
	}
	user, scope, res := a.resolveUserScope(ctx, inv, fields[0], fields[1])
	if res != nil {
		return res, nil
	}

	err = a.store.Update(ctx, func(doc *policy.Document) error {
		doc.UpdateUser(user.ID, scope, func(e *policy.Entry) { e.Triggers = set })
		return nil
	})
	if err != nil {
		return a.persistFailure(ctx, "user.triggers", err), nil
	}
	a.logger.InfoContext(ctx, "user triggers updated",
		"user", user.Label(), "user_id", user.ID, "scope", scope.Title(), "triggers", set.String())
	return &Result{Ack: true}, nil
}

func (a *Admin) userPrompt(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, prompt := inv.Fields(2)
	user, scope, res := a.resolveUserScope(ctx, inv, fields[0], fields[1])
	if res != nil {
		return res, nil
	}

	err := a.store.Update(ctx, func(doc *policy.Document) error {
		doc.UpdateUser(user.ID, scope, func(e *policy.Entry) { e.Prompt = prompt })
		return nil
	})
	if err != nil {
		return a.persistFailure(ctx, "user.prompt", err), nil
	}
	a.logger.InfoContext(ctx, "user prompt updated",
		"user", user.Label(), "user_id", user.ID, "scope", scope.Title(), "prompt_len", len(prompt))
	return &Result{Ack: true}, nil
}

func (a *Admin) userSettings(ctx context.Context, inv *Invocation) (*Result, error) {
	fields, _ := inv.Fields(2)
	scopeRef := ""
	if len(fields) > 1 {
		scopeRef = fields[1]
	}
	user, scope, res := a.resolveUserScope(ctx, inv, fields[0], scopeRef)
	if res != nil {
		return res, nil
	}
	doc, err := a.store.Snapshot(ctx)
	if err != nil {
		return a.loadFailure(ctx, "user.settings", err), nil
	}
	if scope.Kind() == policy.ScopeNone {
		return settingsResult("All known settings for this user are:", doc.UserEntries(user.ID))
	}
	return settingsResult("User settings for chat "+scope.Title(), doc.User(user.ID, scope))
}

// resolveChat maps a chat reference to an entity. A non-nil Result is the
// reply to send instead of continuing.
func (a *Admin) resolveChat(ctx context.Context, inv *Invocation, ref string) (models.Entity, *Result) {
	if ref == RefHere {
		current := strconv.FormatInt(inv.Message.ChatID, 10)
		chat, err := a.entities.GetEntity(ctx, current)
		if err != nil {
			a.logger.DebugContext(ctx, "current chat lookup failed", "chat_id", inv.Message.ChatID, "error", err)
			return models.Entity{ID: inv.Message.ChatID}, nil
		}
		return chat, nil
	}
	chat, err := a.entities.GetEntity(ctx, ref)
	if err != nil {
		a.logger.InfoContext(ctx, "chat reference unresolved", "ref", ref, "error", err)
		return models.Entity{}, &Result{Error: fmt.Sprintf("Cannot find `%s`", ref)}
	}
	return chat, nil
}

func (a *Admin) resolveUserScope(ctx context.Context, inv *Invocation, userRef, scopeRef string) (models.Entity, policy.Scope, *Result) {
	user, err := a.entities.GetEntity(ctx, userRef)
	if err != nil {
		a.logger.InfoContext(ctx, "user reference unresolved", "ref", userRef, "error", err)
		return models.Entity{}, policy.Scope{}, &Result{Error: fmt.Sprintf("Cannot find `%s`", userRef)}
	}

	switch scopeRef {
	case "":
		return user, policy.NoScope(), nil
	case RefGlobal:
		return user, policy.GlobalScope(), nil
	}
	chat, res := a.resolveChat(ctx, inv, scopeRef)
	if res != nil {
		return models.Entity{}, policy.Scope{}, res
	}
	return user, policy.ChatScope(chat.ID, chat.Label()), nil
}

func (a *Admin) persistFailure(ctx context.Context, command string, err error) *Result {
	a.logger.ErrorContext(ctx, "settings store failed", "command", command, "error", err)
	return &Result{Error: "Settings could not be saved, nothing changed"}
}

func (a *Admin) loadFailure(ctx context.Context, command string, err error) *Result {
	a.logger.ErrorContext(ctx, "settings snapshot failed", "command", command, "error", err)
	return &Result{Error: "Settings could not be loaded"}
}

func validationResult(err error) *Result {
	var unknown *policy.UnknownTriggersError
	if errors.As(err, &unknown) {
		return &Result{Error: unknown.Error()}
	}
	return &Result{Error: err.Error()}
}

func settingsResult(header string, value any) (*Result, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return &Result{Text: header + "\n```\n" + string(bytes.TrimRight(buf.Bytes(), "\n")) + "\n```"}, nil
}
