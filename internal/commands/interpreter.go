package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Interpreter matches messages against the registry.
type Interpreter struct {
	registry *Registry
	parser   *Parser
	logger   *slog.Logger
}

// NewInterpreter creates an interpreter. A nil parser uses DefaultPrefixes.
func NewInterpreter(registry *Registry, parser *Parser, logger *slog.Logger) *Interpreter {
	if parser == nil {
		parser = NewParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		registry: registry,
		parser:   parser,
		logger:   logger.With("component", "commands"),
	}
}

// Interpret runs the directive carried by msg. handled is false when msg
// is not a directive the sender may run, in which case the caller keeps
// evaluating the message as ordinary text. Admin directives from anyone
// but the controlling account are never handled.
func (i *Interpreter) Interpret(ctx context.Context, msg *models.Message, isAdmin bool) (res *Result, handled bool) {
	if msg == nil {
		return nil, false
	}
	parsed := i.parser.ParseCommand(msg.Text)
	if parsed == nil {
		return nil, false
	}

	cmd, found := i.registry.Get(parsed.Name)
	if !found {
		if isAdmin && i.registry.HasFamily(parsed.Family()) {
			return &Result{Error: fmt.Sprintf("Unknown command `%s`", parsed.Verb()), Command: parsed.Name}, true
		}
		return nil, false
	}
	if cmd.AdminOnly && !isAdmin {
		return nil, false
	}

	inv := &Invocation{
		Name:    parsed.Name,
		Args:    parsed.Args,
		Message: msg,
		IsAdmin: isAdmin,
	}
	res, err := i.registry.Execute(ctx, inv)
	if err != nil {
		i.logger.ErrorContext(ctx, "command failed", "command", parsed.Name, "error", err)
		return &Result{Error: "Command failed", Command: parsed.Name}, true
	}
	if res == nil {
		res = &Result{}
	}
	res.Command = parsed.Name
	i.logger.InfoContext(ctx, "command executed", "command", parsed.Name, "outcome", res.Outcome())
	return res, true
}
