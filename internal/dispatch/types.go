// Package dispatch decides, for every inbound message, whether the bot
// replies, which conversation the reply continues and what context the
// reply engine sees.
package dispatch

import (
	"context"
	"time"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
	"github.com/haasonsaas/fedorgpt/internal/commands"
	"github.com/haasonsaas/fedorgpt/internal/mixins"
	"github.com/haasonsaas/fedorgpt/internal/triggers"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Transport is the chat network as seen by the engine.
type Transport interface {
	// Self returns the account the bot runs as.
	Self(ctx context.Context) (models.Entity, error)
	GetEntity(ctx context.Context, ref string) (models.Entity, error)
	GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error)
	DownloadMedia(ctx context.Context, ref models.MediaRef) ([]byte, string, error)
	React(ctx context.Context, chatID int64, messageID int, emoji string) error
	Reply(ctx context.Context, chatID int64, replyTo int, text string) (*models.Message, error)
	SetTyping(ctx context.Context, chatID int64, on bool) error
}

// ReplyEngine generates a reply continuing the conversation stored under
// sessionKey.
type ReplyEngine interface {
	Invoke(ctx context.Context, systemPrompt, sessionKey string, payload map[string]any) (string, error)
}

// TriggerResolver computes the effective policy of a sender in a chat.
type TriggerResolver interface {
	Resolve(ctx context.Context, senderID, chatID int64) (triggers.Resolution, error)
}

// MixinBuilder assembles context fragments.
type MixinBuilder interface {
	Build(ctx context.Context, msg *models.Message, kinds ...mixins.Kind) mixins.Mixin
}

// AnchorResolver finds the conversation a reply belongs to.
type AnchorResolver interface {
	Resolve(ctx context.Context, msg *models.Message) (anchor.Anchor, error)
}

// CommandInterpreter runs bang directives.
type CommandInterpreter interface {
	Interpret(ctx context.Context, msg *models.Message, isAdmin bool) (*commands.Result, bool)
}

// Path names the rule that matched an event.
type Path string

const (
	PathUptime     Path = "uptime"
	PathCommand    Path = "command"
	PathInvocation Path = "invocation"
	PathReply      Path = "reply"
	PathMessages   Path = "messages"
	PathForwards   Path = "forwards"
	PathEmbeds     Path = "embeds"
	PathQuotes     Path = "quotes"
	PathNone       Path = "none"
)

// Result is the terminal effect of an event.
type Result string

const (
	ResultReplied  Result = "replied"
	ResultAcked    Result = "acked"
	ResultRejected Result = "rejected"
	ResultSilent   Result = "silent"
	ResultFailed   Result = "failed"
)

// Outcome describes how an event was handled.
type Outcome struct {
	EventID  string
	Path     Path
	Result   Result
	Anchor   string
	Duration time.Duration
}

// route is a matched response path waiting to be dispatched.
type route struct {
	path   Path
	text   string
	anchor string
	kinds  []mixins.Kind
}
