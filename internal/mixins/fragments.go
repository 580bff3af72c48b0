package mixins

import (
	"context"
	"strconv"

	"github.com/haasonsaas/fedorgpt/internal/vision"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// ForwardFragment is the payload under KeyForward.
type ForwardFragment struct {
	Origin  string `json:"origin"`
	Message string `json:"message"`
}

// EmbedFragment is the payload under KeyEmbed.
type EmbedFragment struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Desc      string  `json:"desc"`
	ImageDesc *string `json:"imageDesc,omitempty"`
}

// QuoteFragment is the payload under KeyQuote.
type QuoteFragment struct {
	Text   string  `json:"text"`
	Origin *string `json:"origin,omitempty"`
}

func (b *Builder) image(ctx context.Context, msg *models.Message) (string, bool) {
	if !msg.HasPhoto() {
		return "", false
	}
	return b.describe(ctx, *msg.Photo), true
}

// describe downloads and captions media, returning "" on any failure.
func (b *Builder) describe(ctx context.Context, ref models.MediaRef) string {
	if b.media == nil || b.captioner == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	data, mimeType, err := b.media.DownloadMedia(callCtx, ref)
	cancel()
	if err != nil {
		b.logger.WarnContext(ctx, "media download failed", "error", err)
		b.observeCaption(vision.StatusError)
		return ""
	}
	if mimeType == "" {
		mimeType = ref.MimeType
	}
	res := b.captioner.Caption(ctx, data, mimeType)
	b.observeCaption(res.Status)
	if !res.OK() {
		b.logger.InfoContext(ctx, "image caption unavailable", "status", string(res.Status), "error", res.Err)
		return ""
	}
	return res.Description
}

func (b *Builder) observeCaption(status vision.Status) {
	if b.onCaption != nil {
		b.onCaption(status)
	}
}

func (b *Builder) forward(ctx context.Context, msg *models.Message) (ForwardFragment, bool) {
	if !msg.IsForward() {
		return ForwardFragment{}, false
	}
	fwd := msg.Forward
	ref := fwd.ChatID
	if ref == 0 {
		ref = fwd.OriginID
	}

	origin := ""
	if ref != 0 {
		origin = b.lookupName(ctx, ref)
	}
	if origin == "" {
		origin = fwd.OriginName
	}
	if origin == "" {
		b.logger.DebugContext(ctx, "forward origin unresolved, skipping fragment", "message_id", msg.ID)
		return ForwardFragment{}, false
	}
	return ForwardFragment{Origin: origin, Message: msg.Text}, true
}

func (b *Builder) embed(ctx context.Context, msg *models.Message) (EmbedFragment, bool) {
	if !msg.HasPreview() {
		return EmbedFragment{}, false
	}
	preview := *msg.Preview

	if preview.Title == "" && preview.Description == "" && b.unfurler != nil {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		fetched, err := b.unfurler.Unfurl(callCtx, preview.URL)
		cancel()
		if err != nil {
			b.logger.DebugContext(ctx, "unfurl failed", "url", preview.URL, "error", err)
		} else if fetched != nil {
			preview.Title = fetched.Title
			preview.Description = fetched.Description
			if preview.Photo == nil {
				preview.Photo = fetched.Photo
			}
		}
	}

	frag := EmbedFragment{
		URL:   preview.URL,
		Title: preview.Title,
		Desc:  preview.Description,
	}
	if preview.Photo != nil {
		desc := b.describe(ctx, *preview.Photo)
		frag.ImageDesc = &desc
	}
	return frag, true
}

func (b *Builder) quote(ctx context.Context, msg *models.Message) (QuoteFragment, bool) {
	if msg.ReplyTo == nil || msg.ReplyTo.Quote == "" {
		return QuoteFragment{}, false
	}
	frag := QuoteFragment{Text: msg.ReplyTo.Quote}
	if !msg.CrossChatReply() {
		return frag, true
	}

	origin := b.lookupName(ctx, msg.ReplyTo.ChatID)
	if origin == "" && msg.ReplyTo.Origin != nil {
		origin = msg.ReplyTo.Origin.DisplayName()
	}
	if origin != "" {
		frag.Origin = &origin
	}
	return frag, true
}

func (b *Builder) lookupName(ctx context.Context, id int64) string {
	if b.entities == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	entity, err := b.entities.GetEntity(callCtx, strconv.FormatInt(id, 10))
	if err != nil {
		b.logger.DebugContext(ctx, "entity lookup failed", "id", id, "error", err)
		return ""
	}
	return entity.DisplayName()
}
