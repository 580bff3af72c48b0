// Package commands parses and executes the bang directives the bot
// understands: the !chat.* and !user.* policy editors and !uptime.
package commands

import (
	"context"

	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Command represents a registered directive.
type Command struct {
	// Name is the command name without the prefix (e.g., "chat.triggers")
	Name string `json:"name"`

	// Aliases are alternative names for the command
	Aliases []string `json:"aliases,omitempty"`

	// Description is a short description of what the command does
	Description string `json:"description,omitempty"`

	// Usage is replied when required arguments are missing
	Usage string `json:"usage,omitempty"`

	// MinArgs is the number of space-separated arguments the command needs
	MinArgs int `json:"min_args,omitempty"`

	// AdminOnly restricts the command to the controlling account
	AdminOnly bool `json:"admin_only,omitempty"`

	// Handler is the function that executes the command
	Handler CommandHandler `json:"-"`

	// Family groups commands that share a name prefix ("chat", "user")
	Family string `json:"family,omitempty"`
}

// CommandHandler processes a command invocation.
type CommandHandler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation represents a parsed command invocation.
type Invocation struct {
	// Command is the matched command definition
	Command *Command

	// Name is the actual name/alias used to invoke
	Name string

	// Args is the text after the command name
	Args string

	// Message is the message carrying the command
	Message *models.Message

	// IsAdmin reports whether the sender is the controlling account
	IsAdmin bool
}

// Fields splits Args on single spaces, the way the directives were
// always typed: the first n fields are returned separately and the rest
// is kept verbatim.
func (inv *Invocation) Fields(n int) ([]string, string) {
	if inv.Args == "" {
		return nil, ""
	}
	parts := splitFields(inv.Args, n+1)
	if len(parts) <= n {
		return parts, ""
	}
	return parts[:n], parts[n]
}

// Result is the output of a command execution.
type Result struct {
	// Text is the response message to send
	Text string `json:"text,omitempty"`

	// Ack acknowledges a successful mutation with a reaction
	Ack bool `json:"ack,omitempty"`

	// Error is set if the command failed
	Error string `json:"error,omitempty"`

	// Command is the name of the command that produced the result
	Command string `json:"command,omitempty"`
}

// Body renders the reply text without the bot marker.
func (r *Result) Body() string {
	if r == nil {
		return ""
	}
	if r.Error != "" {
		return "💀 " + r.Error + " 💀"
	}
	return r.Text
}

// Outcome is a short label for metrics.
func (r *Result) Outcome() string {
	switch {
	case r == nil:
		return "none"
	case r.Error != "":
		return "error"
	case r.Ack:
		return "ack"
	default:
		return "reply"
	}
}

// ParsedCommand represents a detected command in a message.
type ParsedCommand struct {
	// Name is the command name (without prefix), lowercased
	Name string

	// Args is the argument text
	Args string

	// Prefix is the command prefix used
	Prefix string
}

// Family returns the part of the name before the first dot.
func (p *ParsedCommand) Family() string {
	family, _, _ := cutDot(p.Name)
	return family
}

// Verb returns the part of the name after the first dot.
func (p *ParsedCommand) Verb() string {
	_, verb, _ := cutDot(p.Name)
	return verb
}
