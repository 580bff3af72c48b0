package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// EventIDKey is the context key for the per-event correlation id.
	EventIDKey ContextKey = "event_id"

	// ChatIDKey is the context key for the chat an event arrived in.
	ChatIDKey ContextKey = "chat_id"

	// SenderIDKey is the context key for the sender of an event.
	SenderIDKey ContextKey = "sender_id"
)

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// OpenAI API keys
	`sk-(?:proj-)?[a-zA-Z0-9_-]{32,}`,

	// Telegram bot tokens, also when embedded in API URLs
	`\d{6,12}:[A-Za-z0-9_-]{30,}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// sensitiveKeys are attribute keys whose values are always replaced.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"bot_token":     true,
	"private_key":   true,
	"authorization": true,
}

const redacted = "[REDACTED]"

// NewLogger creates the root logger.
//
// If config.Output is nil, logs are written to os.Stdout.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return slog.New(NewRedactingHandler(handler, config.RedactPatterns...))
}

// RedactingHandler scrubs secrets from messages and attribute values and
// adds the correlation fields carried by the record context.
type RedactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

// NewRedactingHandler wraps next. Invalid extra patterns are skipped.
func NewRedactingHandler(next slog.Handler, extraPatterns ...string) *RedactingHandler {
	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(extraPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), extraPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return &RedactingHandler{next: next, redacts: redacts}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)

	if ctx != nil {
		if id, ok := ctx.Value(EventIDKey).(string); ok && id != "" {
			out.AddAttrs(slog.String(string(EventIDKey), id))
		}
		if id, ok := ctx.Value(ChatIDKey).(int64); ok {
			out.AddAttrs(slog.Int64(string(ChatIDKey), id))
		}
		if id, ok := ctx.Value(SenderIDKey).(int64); ok {
			out.AddAttrs(slog.Int64(string(SenderIDKey), id))
		}
	}

	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(scrubbed), redacts: h.redacts}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))] {
		return slog.String(a.Key, redacted)
	}

	value := a.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactString(value.String()))
	case slog.KindGroup:
		group := value.Group()
		scrubbed := make([]any, len(group))
		for i, inner := range group {
			scrubbed[i] = h.redactAttr(inner)
		}
		return slog.Group(a.Key, scrubbed...)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(a.Key, h.redactString(v.Error()))
		case []byte:
			return slog.String(a.Key, h.redactString(string(v)))
		}
	}
	return slog.Attr{Key: a.Key, Value: value}
}

// redactString applies all redaction patterns to a string.
func (h *RedactingHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AddEventID adds an event correlation id to the context.
func AddEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// AddChatID adds the chat id to the context.
func AddChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, ChatIDKey, chatID)
}

// AddSenderID adds the sender id to the context.
func AddSenderID(ctx context.Context, senderID int64) context.Context {
	return context.WithValue(ctx, SenderIDKey, senderID)
}

// GetEventID retrieves the event id from the context.
func GetEventID(ctx context.Context) string {
	if id, ok := ctx.Value(EventIDKey).(string); ok {
		return id
	}
	return ""
}
