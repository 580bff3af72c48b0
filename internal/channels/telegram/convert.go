package telegram

import (
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"

	fedmodels "github.com/haasonsaas/fedorgpt/pkg/models"
)

// convertMessage maps a Bot API message to the dispatcher's message.
// selfID marks messages written by the bot account.
func convertMessage(msg *models.Message, selfID int64) *fedmodels.Message {
	out := &fedmodels.Message{
		ID:      msg.ID,
		ChatID:  msg.Chat.ID,
		Sender:  senderEntity(msg),
		Text:    messageText(msg),
		Date:    time.Unix(int64(msg.Date), 0).UTC(),
		ReplyTo: replyRef(msg),
		Forward: forwardRef(msg.ForwardOrigin),
		Preview: linkPreview(msg),
		Photo:   photoRef(msg),
	}
	out.FromSelf = selfID != 0 && out.Sender.ID == selfID
	return out
}

func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// senderEntity prefers the sender chat, which is set for channel posts and
// anonymous group admins.
func senderEntity(msg *models.Message) fedmodels.Entity {
	if msg.SenderChat != nil {
		return chatEntity(msg.SenderChat)
	}
	if msg.From != nil {
		return userEntity(msg.From)
	}
	return fedmodels.Entity{}
}

func userEntity(u *models.User) fedmodels.Entity {
	return fedmodels.Entity{
		ID:        u.ID,
		Kind:      fedmodels.EntityUser,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

func chatEntity(c *models.Chat) fedmodels.Entity {
	return fedmodels.Entity{
		ID:        c.ID,
		Kind:      chatKind(c.Type),
		Title:     c.Title,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Username:  c.Username,
	}
}

func fullChatEntity(c *models.ChatFullInfo) fedmodels.Entity {
	return fedmodels.Entity{
		ID:        c.ID,
		Kind:      chatKind(c.Type),
		Title:     c.Title,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Username:  c.Username,
	}
}

func chatKind(t models.ChatType) fedmodels.EntityKind {
	switch t {
	case models.ChatTypePrivate:
		return fedmodels.EntityPrivate
	case models.ChatTypeGroup:
		return fedmodels.EntityGroup
	case models.ChatTypeSupergroup:
		return fedmodels.EntitySupergroup
	case models.ChatTypeChannel:
		return fedmodels.EntityChannel
	default:
		return fedmodels.EntityKind(t)
	}
}

// photoRef picks the largest photo size, or an image sent as a document.
func photoRef(msg *models.Message) *fedmodels.MediaRef {
	if n := len(msg.Photo); n > 0 {
		return &fedmodels.MediaRef{FileID: msg.Photo[n-1].FileID, MimeType: "image/jpeg"}
	}
	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return &fedmodels.MediaRef{FileID: doc.FileID, MimeType: doc.MimeType}
	}
	return nil
}

func replyRef(msg *models.Message) *fedmodels.ReplyRef {
	var ref *fedmodels.ReplyRef
	switch {
	case msg.ReplyToMessage != nil && !isTopicRoot(msg):
		parent := msg.ReplyToMessage
		ref = &fedmodels.ReplyRef{MessageID: parent.ID}
		if parent.Chat.ID != 0 && parent.Chat.ID != msg.Chat.ID {
			ref.ChatID = parent.Chat.ID
		}
	case msg.ExternalReply != nil:
		ext := msg.ExternalReply
		ref = &fedmodels.ReplyRef{MessageID: ext.MessageID}
		if ext.Chat != nil {
			origin := chatEntity(ext.Chat)
			ref.ChatID = ext.Chat.ID
			ref.Origin = &origin
		} else if origin := originEntity(&ext.Origin); origin != nil {
			ref.ChatID = origin.ID
			ref.Origin = origin
		}
	}

	if msg.Quote != nil && msg.Quote.Text != "" {
		if ref == nil {
			ref = &fedmodels.ReplyRef{}
		}
		ref.Quote = msg.Quote.Text
	}
	return ref
}

// isTopicRoot reports whether the reply parent is only the forum topic's
// creation message, which every topic message points at.
func isTopicRoot(msg *models.Message) bool {
	return msg.IsTopicMessage && msg.ReplyToMessage.ForumTopicCreated != nil
}

func forwardRef(origin *models.MessageOrigin) *fedmodels.ForwardRef {
	if origin == nil {
		return nil
	}
	switch {
	case origin.MessageOriginUser != nil:
		u := userEntity(&origin.MessageOriginUser.SenderUser)
		return &fedmodels.ForwardRef{OriginID: u.ID, OriginName: u.DisplayName()}
	case origin.MessageOriginHiddenUser != nil:
		return &fedmodels.ForwardRef{OriginName: origin.MessageOriginHiddenUser.SenderUserName}
	case origin.MessageOriginChat != nil:
		c := chatEntity(&origin.MessageOriginChat.SenderChat)
		return &fedmodels.ForwardRef{OriginID: c.ID, ChatID: c.ID, OriginName: c.DisplayName()}
	case origin.MessageOriginChannel != nil:
		c := chatEntity(&origin.MessageOriginChannel.Chat)
		return &fedmodels.ForwardRef{OriginID: c.ID, ChatID: c.ID, OriginName: c.DisplayName()}
	}
	return &fedmodels.ForwardRef{}
}

func originEntity(origin *models.MessageOrigin) *fedmodels.Entity {
	var e fedmodels.Entity
	switch {
	case origin.MessageOriginUser != nil:
		e = userEntity(&origin.MessageOriginUser.SenderUser)
	case origin.MessageOriginHiddenUser != nil:
		e = fedmodels.Entity{Kind: fedmodels.EntityUser, FirstName: origin.MessageOriginHiddenUser.SenderUserName}
	case origin.MessageOriginChat != nil:
		e = chatEntity(&origin.MessageOriginChat.SenderChat)
	case origin.MessageOriginChannel != nil:
		e = chatEntity(&origin.MessageOriginChannel.Chat)
	default:
		return nil
	}
	return &e
}

// linkPreview reports the link the client rendered a preview for. The Bot
// API does not deliver preview contents, only the URL.
func linkPreview(msg *models.Message) *fedmodels.LinkPreview {
	if opts := msg.LinkPreviewOptions; opts != nil {
		if opts.IsDisabled != nil && *opts.IsDisabled {
			return nil
		}
		if opts.URL != nil && *opts.URL != "" {
			return &fedmodels.LinkPreview{URL: normalizeURL(*opts.URL)}
		}
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	for _, e := range entities {
		switch e.Type {
		case models.MessageEntityTypeTextLink:
			if e.URL != "" {
				return &fedmodels.LinkPreview{URL: normalizeURL(e.URL)}
			}
		case models.MessageEntityTypeURL:
			if u := entityText(text, e.Offset, e.Length); u != "" {
				return &fedmodels.LinkPreview{URL: normalizeURL(u)}
			}
		}
	}
	return nil
}

// entityText slices text by UTF-16 offsets as the Bot API reports them.
func entityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.Contains(u, "://") {
		return "http://" + u
	}
	return u
}
