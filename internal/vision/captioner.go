// Package vision describes images through an OpenAI vision model.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Status classifies the outcome of a caption attempt.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	StatusEmpty   Status = "empty"
)

// DefaultPrompt asks the model for an exhaustive description.
const DefaultPrompt = "You are provided an image. Describe the image with as many details as possible."

// Result is the outcome of Caption. Description is empty unless Status is
// StatusOK.
type Result struct {
	Description string
	Status      Status
	Err         error
}

// OK reports whether a description was produced.
func (r Result) OK() bool { return r.Status == StatusOK }

// ChatCompleter is the subset of *openai.Client used for captioning.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a Captioner.
type Config struct {
	Client    ChatCompleter
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Prompt    string
	Logger    *slog.Logger
}

// Captioner turns image bytes into text.
type Captioner struct {
	client    ChatCompleter
	model     string
	maxTokens int
	timeout   time.Duration
	prompt    string
	logger    *slog.Logger
}

// NewCaptioner applies defaults and builds a Captioner.
func NewCaptioner(cfg Config) *Captioner {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Captioner{
		client:    cfg.Client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		prompt:    cfg.Prompt,
		logger:    cfg.Logger.With("component", "vision"),
	}
}

// Caption describes image. It never returns an error; failures are
// reported through Result.Status.
func (c *Captioner) Caption(ctx context.Context, image []byte, mimeType string) Result {
	if len(image) == 0 {
		return Result{Status: StatusError, Err: errors.New("empty image")}
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(image)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: c.prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.WarnContext(ctx, "caption timed out", "timeout", c.timeout)
			return Result{Status: StatusTimeout, Err: err}
		}
		c.logger.WarnContext(ctx, "caption failed", "error", err)
		return Result{Status: StatusError, Err: err}
	}

	if len(resp.Choices) == 0 {
		return Result{Status: StatusEmpty}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Result{Status: StatusEmpty}
	}
	return Result{Description: text, Status: StatusOK}
}
