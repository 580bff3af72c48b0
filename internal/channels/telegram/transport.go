package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/fedorgpt/internal/channels"
	fedmodels "github.com/haasonsaas/fedorgpt/pkg/models"
)

// Self returns the bot account, calling getMe on first use.
func (a *Adapter) Self(ctx context.Context) (fedmodels.Entity, error) {
	a.selfMu.RLock()
	self := a.self
	a.selfMu.RUnlock()
	if self.ID != 0 {
		return self, nil
	}

	client, err := a.botClient()
	if err != nil {
		return fedmodels.Entity{}, err
	}
	me, err := client.GetMe(ctx)
	if err != nil {
		return fedmodels.Entity{}, a.classify("get me", err)
	}
	self = userEntity(me)

	a.selfMu.Lock()
	a.self = self
	a.selfMu.Unlock()
	return self, nil
}

// GetEntity resolves a numeric id or @username to a user or chat. Results
// are cached for EntityCacheTTL.
func (a *Adapter) GetEntity(ctx context.Context, ref string) (fedmodels.Entity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fedmodels.Entity{}, channels.ErrInvalidInput("empty entity reference", nil)
	}
	if e, ok := a.entities.Get(ref); ok {
		return e, nil
	}

	chatID, err := chatIDParam(ref)
	if err != nil {
		return fedmodels.Entity{}, err
	}

	client, err := a.botClient()
	if err != nil {
		return fedmodels.Entity{}, err
	}
	info, err := client.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return fedmodels.Entity{}, a.classify("get chat", err).WithContext("ref", ref)
	}

	entity := fullChatEntity(info)
	if entity.Kind == fedmodels.EntityPrivate {
		// A private chat's id is the user's id.
		entity.Kind = fedmodels.EntityUser
	}
	a.entities.Set(ref, entity)
	return entity, nil
}

func chatIDParam(ref string) (any, error) {
	if strings.HasPrefix(ref, "@") {
		if len(ref) == 1 {
			return nil, channels.ErrInvalidInput("empty username", nil)
		}
		return ref, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, channels.ErrInvalidInput("entity reference must be an id or @username", err).WithContext("ref", ref)
	}
	return id, nil
}

// GetMessage returns a previously seen message from the journal. The Bot
// API cannot fetch arbitrary messages.
func (a *Adapter) GetMessage(ctx context.Context, chatID int64, messageID int) (*fedmodels.Message, error) {
	msg, err := a.journal.Get(ctx, chatID, messageID)
	if err != nil {
		return nil, channels.ErrNotFound("message not journaled", err).
			WithContext("chat_id", chatID).
			WithContext("message_id", messageID)
	}
	return msg, nil
}

// DownloadMedia fetches a Telegram file by id or an external image by URL.
func (a *Adapter) DownloadMedia(ctx context.Context, ref fedmodels.MediaRef) ([]byte, string, error) {
	if ref.FileID == "" {
		if ref.URL == "" || a.images == nil {
			return nil, "", channels.ErrInvalidInput("media reference has nothing to download", nil)
		}
		return a.images.FetchImage(ctx, ref.URL)
	}

	client, err := a.botClient()
	if err != nil {
		return nil, "", err
	}
	file, err := client.GetFile(ctx, &bot.GetFileParams{FileID: ref.FileID})
	if err != nil {
		return nil, "", a.classify("get file", err)
	}
	if file.FileSize > a.config.MaxFileBytes {
		return nil, "", channels.ErrInvalidInput(fmt.Sprintf("file exceeds %d bytes", a.config.MaxFileBytes), nil)
	}

	data, err := a.fetch(ctx, client.FileDownloadLink(file))
	if err != nil {
		a.recordError(channels.GetErrorCode(err))
		return nil, "", err
	}

	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// fetch downloads a file link. The link embeds the bot token, so URL
// errors are unwrapped before they can reach a log line.
func (a *Adapter) fetch(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, channels.ErrInternal("build download request", nil)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, channels.ErrConnection("download file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, channels.ErrConnection(fmt.Sprintf("download file: status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxFileBytes+1))
	if err != nil {
		return nil, channels.ErrConnection("read file", err)
	}
	if int64(len(data)) > a.config.MaxFileBytes {
		return nil, channels.ErrInvalidInput(fmt.Sprintf("file exceeds %d bytes", a.config.MaxFileBytes), nil)
	}
	return data, nil
}

// React sets the bot's reaction on a message, replacing any previous one.
func (a *Adapter) React(ctx context.Context, chatID int64, messageID int, emoji string) error {
	client, err := a.botClient()
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return channels.ErrTimeout("rate limit wait", err)
	}

	_, err = client.SetMessageReaction(ctx, &bot.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: messageID,
		Reaction: []models.ReactionType{{
			Type:              models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: emoji},
		}},
	})
	if err != nil {
		return a.classify("set reaction", err).WithContext("emoji", emoji)
	}
	return nil
}

// Reply sends text as a reply to replyTo and journals the sent message.
func (a *Adapter) Reply(ctx context.Context, chatID int64, replyTo int, text string) (*fedmodels.Message, error) {
	client, err := a.botClient()
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return nil, channels.ErrTimeout("rate limit wait", err)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}

	start := time.Now()
	sent, err := client.SendMessage(ctx, params)
	if err != nil {
		return nil, a.classify("send message", err).WithContext("chat_id", chatID)
	}
	a.logger.DebugContext(ctx, "sent reply",
		"chat_id", chatID,
		"message_id", sent.ID,
		"latency_ms", time.Since(start).Milliseconds())

	msg := convertMessage(sent, a.selfID())
	msg.FromSelf = true
	if err := a.journal.Record(ctx, msg); err != nil {
		a.logger.WarnContext(ctx, "failed to journal sent message", "chat_id", chatID, "message_id", msg.ID, "error", err)
		a.metrics.RecordError("journal", "record")
	}
	return msg, nil
}

// SetTyping shows the typing indicator. Telegram clears it on its own
// after a few seconds or when a message is sent, so turning it off is a
// no-op.
func (a *Adapter) SetTyping(ctx context.Context, chatID int64, on bool) error {
	if !on {
		return nil
	}
	client, err := a.botClient()
	if err != nil {
		return err
	}
	if _, err := client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	}); err != nil {
		return a.classify("send chat action", err)
	}
	return nil
}

// classify wraps a Bot API error in a channel error and counts it.
func (a *Adapter) classify(op string, err error) *channels.Error {
	var code channels.ErrorCode
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany), errors.Is(err, bot.ErrorTooManyRequests):
		code = channels.ErrCodeRateLimit
	case errors.Is(err, bot.ErrorUnauthorized):
		code = channels.ErrCodeAuthentication
	case errors.Is(err, bot.ErrorForbidden):
		code = channels.ErrCodeForbidden
	case errors.Is(err, bot.ErrorNotFound):
		code = channels.ErrCodeNotFound
	case errors.Is(err, bot.ErrorBadRequest):
		code = channels.ErrCodeInvalidInput
	case errors.Is(err, context.DeadlineExceeded):
		code = channels.ErrCodeTimeout
	default:
		code = channels.ErrCodeConnection
	}
	a.recordError(code)
	return channels.NewError(code, op, err)
}
