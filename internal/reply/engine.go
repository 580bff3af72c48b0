// Package reply generates replies with an OpenAI chat model and keeps the
// per-thread conversation history.
package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/fedorgpt/internal/backoff"
	"github.com/haasonsaas/fedorgpt/internal/history"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// ChatCompleter is the subset of *openai.Client the engine uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// HistoryStore loads and appends conversation turns.
type HistoryStore interface {
	Load(ctx context.Context, key string, limit int) ([]history.Entry, error)
	Append(ctx context.Context, key string, entries ...history.Entry) error
}

// Observer receives one call per completed model request.
type Observer func(model string, duration time.Duration, err error)

// Config configures an Engine.
type Config struct {
	Client       ChatCompleter
	History      HistoryStore
	Model        string
	MaxTokens    int
	HistoryLimit int
	Timeout      time.Duration
	MaxAttempts  int
	Retry        backoff.Policy
	Observer     Observer
	Logger       *slog.Logger
}

// Engine turns a payload into a reply within a history session.
type Engine struct {
	client       ChatCompleter
	history      HistoryStore
	model        string
	maxTokens    int
	historyLimit int
	timeout      time.Duration
	maxAttempts  int
	retry        backoff.Policy
	observer     Observer
	logger       *slog.Logger
}

// NewEngine applies defaults and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("reply engine: client is required")
	}
	if cfg.History == nil {
		return nil, errors.New("reply engine: history store is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retry == (backoff.Policy{}) {
		cfg.Retry = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		client:       cfg.Client,
		history:      cfg.History,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.Timeout,
		maxAttempts:  cfg.MaxAttempts,
		retry:        cfg.Retry,
		observer:     cfg.Observer,
		logger:       cfg.Logger.With("component", "reply"),
	}, nil
}

// EncodePayload renders the payload the way the model receives it.
func EncodePayload(payload map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(payload); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Invoke sends systemPrompt, the history stored under sessionKey and the
// payload to the model. On success both the payload and the reply are
// appended to the session.
func (e *Engine) Invoke(ctx context.Context, systemPrompt, sessionKey string, payload map[string]any) (string, error) {
	message, err := EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	past, err := e.history.Load(ctx, sessionKey, e.historyLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, turn := range past {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages:  messages,
	}
	text, err := backoff.Retry(ctx, e.retry, e.maxAttempts, isRetryable,
		func(ctx context.Context, attempt int) (string, error) {
			start := time.Now()
			resp, err := e.client.CreateChatCompletion(ctx, req)
			if e.observer != nil {
				e.observer(e.model, time.Since(start), err)
			}
			if err != nil {
				e.logger.WarnContext(ctx, "completion failed", "attempt", attempt, "session", sessionKey, "error", err)
				return "", err
			}
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return "", ErrEmptyReply
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	now := time.Now()
	err = e.history.Append(ctx, sessionKey,
		history.Entry{Role: models.RoleUser, Content: message, CreatedAt: now},
		history.Entry{Role: models.RoleAssistant, Content: text, CreatedAt: now},
	)
	if err != nil {
		// the reply is still worth sending
		e.logger.ErrorContext(ctx, "failed to persist history", "session", sessionKey, "error", err)
	}
	return text, nil
}

// isRetryable treats rate limits, server errors and transport failures as
// transient.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, ErrEmptyReply)
}
