package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
	"github.com/haasonsaas/fedorgpt/internal/channels"
	"github.com/haasonsaas/fedorgpt/internal/commands"
	"github.com/haasonsaas/fedorgpt/internal/mixins"
	"github.com/haasonsaas/fedorgpt/internal/observability"
	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/reply"
	"github.com/haasonsaas/fedorgpt/internal/sessions"
	"github.com/haasonsaas/fedorgpt/internal/triggers"
	"github.com/haasonsaas/fedorgpt/internal/typing"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Defaults applied by Config.Validate.
const (
	DefaultInvocationPrefix = "!fedorGPT"
	DefaultReplyMarker      = "🤖"
	DefaultAckFallback      = "Ok 🫡"
	DefaultExternalTimeout  = 30 * time.Second
)

var (
	// DefaultOKReactions acknowledge a successful directive.
	DefaultOKReactions = []string{"🫡", "💅", "🔥", "❤️", "👍"}

	// DefaultRejectReactions answer blacklisted senders.
	DefaultRejectReactions = []string{"🖕", "💩", "😈", "🗿", "👎"}
)

// Config holds the engine's tunables.
type Config struct {
	// OwnerID is the controlling account allowed to run admin directives.
	// The bot's own account is always accepted as well.
	OwnerID int64

	// InvocationPrefix starts an explicit request to the bot.
	InvocationPrefix string

	// ReplyMarker prefixes every message the bot sends.
	ReplyMarker string

	// AckFallback is replied when every OK reaction fails.
	AckFallback string

	OKReactions     []string
	RejectReactions []string

	// ExternalTimeout bounds each transport call made by the engine.
	ExternalTimeout time.Duration

	// TypingInterval is the typing indicator refresh period.
	TypingInterval time.Duration

	// Location is the time zone of the clock shown to the model.
	Location *time.Location

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// MaxMessageLength is the transport's message size limit in UTF-16
	// code units. Longer replies are split, each part carrying the marker.
	MaxMessageLength int
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.InvocationPrefix == "" {
		c.InvocationPrefix = DefaultInvocationPrefix
	}
	if c.ReplyMarker == "" {
		c.ReplyMarker = DefaultReplyMarker
	}
	if c.AckFallback == "" {
		c.AckFallback = DefaultAckFallback
	}
	if len(c.OKReactions) == 0 {
		c.OKReactions = DefaultOKReactions
	}
	if len(c.RejectReactions) == 0 {
		c.RejectReactions = DefaultRejectReactions
	}
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = DefaultExternalTimeout
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = typing.DefaultInterval
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = channels.TelegramMaxMessageLength
	}
	if markerLen := len(utf16.Encode([]rune(c.ReplyMarker + " "))); c.MaxMessageLength <= markerLen {
		return fmt.Errorf("max message length %d leaves no room after the reply marker", c.MaxMessageLength)
	}
	if c.OwnerID < 0 {
		return fmt.Errorf("owner id must be a user id, got %d", c.OwnerID)
	}
	return nil
}

// Dependencies are the collaborators of the engine. Metrics and Tracer
// may be nil.
type Dependencies struct {
	Transport Transport
	Triggers  TriggerResolver
	Mixins    MixinBuilder
	Anchors   AnchorResolver
	Commands  CommandInterpreter
	Replies   ReplyEngine
	Locker    *sessions.KeyedLocker
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Logger    *slog.Logger
}

// Engine runs the per-event decision procedure.
type Engine struct {
	cfg       Config
	transport Transport
	triggers  TriggerResolver
	mixins    MixinBuilder
	anchors   AnchorResolver
	commands  CommandInterpreter
	replies   ReplyEngine
	locker    *sessions.KeyedLocker
	chunker   *channels.MessageChunker
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// NewEngine validates cfg and wires an engine.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Transport == nil:
		return nil, errors.New("dispatch: transport is required")
	case deps.Triggers == nil:
		return nil, errors.New("dispatch: trigger resolver is required")
	case deps.Mixins == nil:
		return nil, errors.New("dispatch: mixin builder is required")
	case deps.Anchors == nil:
		return nil, errors.New("dispatch: anchor resolver is required")
	case deps.Commands == nil:
		return nil, errors.New("dispatch: command interpreter is required")
	case deps.Replies == nil:
		return nil, errors.New("dispatch: reply engine is required")
	}
	if deps.Locker == nil {
		deps.Locker = sessions.NewKeyedLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		transport: deps.Transport,
		triggers:  deps.Triggers,
		mixins:    deps.Mixins,
		anchors:   deps.Anchors,
		commands:  deps.Commands,
		replies:   deps.Replies,
		locker:    deps.Locker,
		chunker:   channels.NewMessageChunker(cfg.MaxMessageLength - len(utf16.Encode([]rune(cfg.ReplyMarker+" ")))),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger.With("component", "dispatch"),
	}, nil
}

// Handle runs the decision procedure for one inbound message. The first
// matching path wins. Errors are returned for logging only; every
// user-visible effect has already happened when Handle returns.
func (e *Engine) Handle(ctx context.Context, msg *models.Message) (out Outcome, err error) {
	start := time.Now()
	out = Outcome{EventID: uuid.NewString(), Path: PathNone, Result: ResultSilent}

	ctx = observability.AddEventID(ctx, out.EventID)
	ctx = observability.AddChatID(ctx, msg.ChatID)
	ctx = observability.AddSenderID(ctx, msg.Sender.ID)
	ctx, span := e.tracer.TraceEvent(ctx, out.EventID, msg.ChatID)
	done := e.metrics.EventStarted()
	defer func() {
		done()
		out.Duration = time.Since(start)
		e.metrics.RecordDispatch(string(out.Path), string(out.Result), out.Duration.Seconds())
		e.tracer.SetAttributes(span, "dispatch.path", string(out.Path), "dispatch.result", string(out.Result))
		e.tracer.RecordError(span, err)
		span.End()
		e.logger.InfoContext(ctx, "event handled",
			"message_id", msg.ID,
			"path", string(out.Path),
			"result", string(out.Result),
			"anchor", out.Anchor,
			"duration_ms", out.Duration.Milliseconds())
	}()

	if msg.Sender.ID == 0 {
		return out, nil
	}
	if msg.FromSelf && strings.HasPrefix(msg.Text, e.cfg.ReplyMarker) {
		return out, nil
	}

	self, err := e.self(ctx)
	if err != nil {
		out.Result = ResultFailed
		return out, err
	}
	isAdmin := msg.Sender.ID == self.ID || (e.cfg.OwnerID != 0 && msg.Sender.ID == e.cfg.OwnerID)

	// 1, 2: directives.
	if res, handled := e.commands.Interpret(ctx, msg, isAdmin); handled {
		out.Path = PathCommand
		if res.Command == "uptime" {
			out.Path = PathUptime
		}
		out.Result, err = e.respondCommand(ctx, msg, res)
		return out, err
	}

	// 3: explicit invocation.
	if text, ok := commands.StripInvocation(msg.Text, e.cfg.InvocationPrefix); ok && !msg.IsForward() {
		out.Path = PathInvocation
		out.Anchor = anchor.Key(msg.ChatID, msg.ID)
		res, err := e.triggers.Resolve(ctx, msg.Sender.ID, msg.ChatID)
		if err != nil {
			out.Result = ResultFailed
			return out, fmt.Errorf("resolve triggers: %w", err)
		}
		out.Result, err = e.dispatch(ctx, msg, self, res, route{
			path:   PathInvocation,
			text:   text,
			anchor: out.Anchor,
			kinds:  []mixins.Kind{mixins.Image},
		})
		return out, err
	}

	res, err := e.triggers.Resolve(ctx, msg.Sender.ID, msg.ChatID)
	if err != nil {
		out.Result = ResultFailed
		return out, fmt.Errorf("resolve triggers: %w", err)
	}

	// 4: continuation of a bot thread.
	if rt, terminal := e.matchReply(ctx, msg, self, res); terminal {
		out.Path = PathReply
		if rt == nil {
			return out, nil
		}
		out.Anchor = rt.anchor
		out.Result, err = e.dispatchTyping(ctx, msg, self, res, *rt)
		return out, err
	}

	// 5-8: policy triggers.
	rt := e.matchTriggers(msg, res)
	if rt == nil {
		return out, nil
	}
	out.Path = rt.path
	out.Anchor = rt.anchor
	out.Result, err = e.dispatchTyping(ctx, msg, self, res, *rt)
	return out, err
}

// matchReply evaluates path 4. terminal reports whether evaluation stops
// here; a nil route with terminal set means stop silently.
func (e *Engine) matchReply(ctx context.Context, msg *models.Message, self models.Entity, res triggers.Resolution) (*route, bool) {
	if !msg.IsReply() || msg.IsForward() || msg.ReplyTo.MessageID == 0 || msg.CrossChatReply() {
		return nil, false
	}
	allReplies := res.Has(policy.TriggerAllReplies)
	if !allReplies && !res.Has(policy.TriggerGptReplies) {
		return nil, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	parent, err := e.transport.GetMessage(lookupCtx, msg.ChatID, msg.ReplyTo.MessageID)
	cancel()
	if err != nil {
		e.logger.DebugContext(ctx, "reply parent unavailable", "parent_id", msg.ReplyTo.MessageID, "error", err)
		return nil, false
	}
	if !parent.FromSelf && parent.Sender.ID != self.ID {
		e.logger.DebugContext(ctx, "reply is not to the bot")
		return nil, true
	}
	if !allReplies && !strings.HasPrefix(parent.Text, e.cfg.ReplyMarker) {
		e.logger.DebugContext(ctx, "reply is not to a generated message and only gpt_replies is active")
		return nil, true
	}

	resolveCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	found, err := e.anchors.Resolve(resolveCtx, msg)
	cancel()
	if err != nil {
		e.logger.DebugContext(ctx, "no conversation anchor, trying other triggers", "error", err)
		return nil, false
	}
	return &route{
		path:   PathReply,
		text:   msg.Text,
		anchor: found.Key(),
		kinds:  []mixins.Kind{mixins.Image, mixins.Quote},
	}, true
}

// matchTriggers evaluates paths 5 to 8.
func (e *Engine) matchTriggers(msg *models.Message, res triggers.Resolution) *route {
	own := anchor.Key(msg.ChatID, msg.ID)
	switch {
	case res.Has(policy.TriggerMessages):
		return &route{
			path:   PathMessages,
			text:   msg.Text,
			anchor: own,
			kinds:  []mixins.Kind{mixins.Image, mixins.Embed, mixins.Forward, mixins.Quote},
		}
	case res.Has(policy.TriggerForwards) && msg.IsForward() && msg.ForwardedFromOtherChat():
		return &route{
			path:   PathForwards,
			anchor: own,
			kinds:  []mixins.Kind{mixins.Image, mixins.Forward, mixins.Embed},
		}
	case res.Has(policy.TriggerEmbeds) && msg.HasPreview():
		return &route{
			path:   PathEmbeds,
			text:   msg.Text,
			anchor: own,
			kinds:  []mixins.Kind{mixins.Image, mixins.Embed},
		}
	case res.Has(policy.TriggerQuotes) && msg.CrossChatReply():
		return &route{
			path:   PathQuotes,
			text:   msg.Text,
			anchor: own,
			kinds:  []mixins.Kind{mixins.Image, mixins.Embed, mixins.Quote},
		}
	}
	return nil
}

func (e *Engine) dispatchTyping(ctx context.Context, msg *models.Message, self models.Entity, res triggers.Resolution, rt route) (Result, error) {
	stop := typing.Keep(ctx, func(ctx context.Context, on bool) error {
		return e.transport.SetTyping(ctx, msg.ChatID, on)
	}, typing.Config{Interval: e.cfg.TypingInterval, Logger: e.logger})
	defer stop()
	return e.dispatch(ctx, msg, self, res, rt)
}

// dispatch rejects blacklisted senders or generates and sends a reply.
func (e *Engine) dispatch(ctx context.Context, msg *models.Message, self models.Entity, res triggers.Resolution, rt route) (Result, error) {
	if res.Blacklisted() {
		e.logger.InfoContext(ctx, "sender or chat is blacklisted", "path", string(rt.path))
		if _, ok := e.react(ctx, msg, e.cfg.RejectReactions); !ok {
			return ResultFailed, errors.New("every rejection reaction failed")
		}
		return ResultRejected, nil
	}

	payload := map[string]any{
		"name": msg.Sender.DisplayName(),
		"text": rt.text,
	}
	mixCtx, span := e.tracer.TraceMixins(ctx, kindNames(rt.kinds))
	for k, v := range e.mixins.Build(mixCtx, msg, rt.kinds...) {
		payload[k] = v
	}
	span.End()

	prompt := reply.BuildSystemPrompt(reply.PromptParams{
		BotName: self.DisplayName(),
		Now:     e.cfg.Now().In(e.cfg.Location),
		Overlay: triggers.ComposeOverlay(res.Overlays),
	})

	text, err := e.invoke(ctx, prompt, rt.anchor, payload)
	if err != nil {
		e.metrics.RecordError("reply", "invoke")
		return ResultFailed, fmt.Errorf("generate reply: %w", err)
	}
	if err := e.send(ctx, msg, text); err != nil {
		return ResultFailed, err
	}
	e.logger.InfoContext(ctx, "replied",
		"path", string(rt.path),
		"anchor", rt.anchor,
		"mixins", mixinKeys(payload))
	return ResultReplied, nil
}

// invoke serializes reply generation per conversation.
func (e *Engine) invoke(ctx context.Context, prompt, key string, payload map[string]any) (string, error) {
	if err := e.locker.Lock(ctx, key); err != nil {
		return "", err
	}
	defer e.locker.Unlock(key)

	ctx, span := e.tracer.TraceReply(ctx, key)
	defer span.End()
	text, err := e.replies.Invoke(ctx, prompt, key, payload)
	e.tracer.RecordError(span, err)
	return text, err
}

func (e *Engine) respondCommand(ctx context.Context, msg *models.Message, res *commands.Result) (Result, error) {
	e.metrics.RecordCommand(res.Command, res.Outcome())
	if res.Ack {
		return e.ack(ctx, msg)
	}
	body := res.Body()
	if body == "" {
		return ResultSilent, nil
	}
	if err := e.send(ctx, msg, body); err != nil {
		return ResultFailed, err
	}
	return ResultReplied, nil
}

// ack reacts with the first OK reaction that succeeds, falling back to a
// text reply.
func (e *Engine) ack(ctx context.Context, msg *models.Message) (Result, error) {
	if _, ok := e.react(ctx, msg, e.cfg.OKReactions); ok {
		return ResultAcked, nil
	}
	if err := e.send(ctx, msg, e.cfg.AckFallback); err != nil {
		return ResultFailed, err
	}
	return ResultAcked, nil
}

// react tries each reaction in order and reports the one that stuck.
func (e *Engine) react(ctx context.Context, msg *models.Message, reactions []string) (string, bool) {
	for _, emoji := range reactions {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
		err := e.transport.React(callCtx, msg.ChatID, msg.ID, emoji)
		cancel()
		if err == nil {
			return emoji, true
		}
		e.metrics.RecordError("transport", "reaction")
		e.logger.WarnContext(ctx, "failed to react", "emoji", emoji, "message_id", msg.ID, "error", err)
	}
	return "", false
}

// send replies to msg with the bot marker prepended. Bodies over the
// message limit go out as several replies, each marked.
func (e *Engine) send(ctx context.Context, msg *models.Message, body string) error {
	parts := e.chunker.Chunk(body)
	if len(parts) == 0 {
		return errors.New("send reply: empty body")
	}
	for i, part := range parts {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
		_, err := e.transport.Reply(callCtx, msg.ChatID, msg.ID, e.cfg.ReplyMarker+" "+part)
		cancel()
		if err != nil {
			e.metrics.RecordError("transport", "reply")
			return fmt.Errorf("send reply part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func (e *Engine) self(ctx context.Context) (models.Entity, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	defer cancel()
	self, err := e.transport.Self(callCtx)
	if err != nil {
		e.metrics.RecordError("transport", "self")
		return models.Entity{}, fmt.Errorf("resolve own account: %w", err)
	}
	return self, nil
}

func kindNames(kinds []mixins.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

func mixinKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "name" && k != "text" {
			keys = append(keys, k)
		}
	}
	return keys
}
