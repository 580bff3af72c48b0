// Package anchor finds the conversation a reply belongs to by walking up
// its reply chain to the nearest message with stored history.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// DefaultMaxDepth bounds the reply chain walk. Each message in the chain is
// one hop, so the default reaches back about 25 user/bot exchanges.
const DefaultMaxDepth = 50

var (
	// ErrNoAnchor means no ancestor has history. Every failed walk
	// satisfies errors.Is(err, ErrNoAnchor).
	ErrNoAnchor = errors.New("no conversation anchor")

	// ErrDepthExceeded means the walk hit the depth cap.
	ErrDepthExceeded = errors.New("reply chain too deep")

	// ErrCycle means the walk revisited a message.
	ErrCycle = errors.New("reply chain cycle")
)

// Key renders the history key of a message.
func Key(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// Anchor identifies the message whose history a reply continues.
type Anchor struct {
	ChatID    int64
	MessageID int
}

// Key returns the history key of the anchor.
func (a Anchor) Key() string { return Key(a.ChatID, a.MessageID) }

// MessageLookup fetches a message by id.
type MessageLookup interface {
	GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error)
}

// HistoryChecker reports whether history exists under a key.
type HistoryChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Resolver walks reply chains.
type Resolver struct {
	messages MessageLookup
	history  HistoryChecker
	maxDepth int
	logger   *slog.Logger
}

// NewResolver creates a Resolver. maxDepth <= 0 uses DefaultMaxDepth.
func NewResolver(messages MessageLookup, history HistoryChecker, maxDepth int, logger *slog.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		messages: messages,
		history:  history,
		maxDepth: maxDepth,
		logger:   logger.With("component", "anchor"),
	}
}

// Resolve returns the nearest ancestor of msg, starting at its reply
// parent, that has stored history. The walk fails closed: lookup errors,
// cycles and the depth cap all end in an error wrapping ErrNoAnchor.
func (r *Resolver) Resolve(ctx context.Context, msg *models.Message) (Anchor, error) {
	if msg == nil || msg.ReplyTo == nil || msg.ReplyTo.MessageID == 0 {
		return Anchor{}, ErrNoAnchor
	}

	candidate := Anchor{ChatID: msg.ParentChatID(), MessageID: msg.ReplyTo.MessageID}
	visited := make(map[Anchor]bool, 8)

	for depth := 0; depth < r.maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return Anchor{}, fmt.Errorf("%w: %w", ErrNoAnchor, err)
		}
		if visited[candidate] {
			return Anchor{}, fmt.Errorf("%w: %w at %s", ErrNoAnchor, ErrCycle, candidate.Key())
		}
		visited[candidate] = true

		exists, err := r.history.Exists(ctx, candidate.Key())
		if err != nil {
			return Anchor{}, fmt.Errorf("%w: %w", ErrNoAnchor, err)
		}
		if exists {
			r.logger.DebugContext(ctx, "anchor resolved", "key", candidate.Key(), "depth", depth)
			return candidate, nil
		}

		parent, err := r.messages.GetMessage(ctx, candidate.ChatID, candidate.MessageID)
		if err != nil {
			return Anchor{}, fmt.Errorf("%w: lookup %s: %w", ErrNoAnchor, candidate.Key(), err)
		}
		if parent.ReplyTo == nil || parent.ReplyTo.MessageID == 0 {
			return Anchor{}, ErrNoAnchor
		}
		candidate = Anchor{ChatID: parent.ParentChatID(), MessageID: parent.ReplyTo.MessageID}
	}

	r.logger.WarnContext(ctx, "reply chain walk hit depth cap", "max_depth", r.maxDepth, "message_id", msg.ID)
	return Anchor{}, fmt.Errorf("%w: %w (%d)", ErrNoAnchor, ErrDepthExceeded, r.maxDepth)
}
