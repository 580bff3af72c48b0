package models

import (
	"time"
)

// Role indicates the author of a stored conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is an inbound or outbound chat message as seen by the dispatcher.
type Message struct {
	ID       int       `json:"id"`
	ChatID   int64     `json:"chat_id"`
	Sender   Entity    `json:"sender"`
	Text     string    `json:"text,omitempty"`
	Date     time.Time `json:"date"`
	FromSelf bool      `json:"from_self,omitempty"` // sent by the bot itself

	ReplyTo *ReplyRef    `json:"reply_to,omitempty"`
	Forward *ForwardRef  `json:"forward,omitempty"`
	Preview *LinkPreview `json:"preview,omitempty"`
	Photo   *MediaRef    `json:"photo,omitempty"`
}

// ReplyRef points at the message a reply answers.
type ReplyRef struct {
	// MessageID of the parent. Zero when the transport only knows the quote.
	MessageID int `json:"message_id,omitempty"`

	// ChatID of the parent. Zero means the reply's own chat.
	ChatID int64 `json:"chat_id,omitempty"`

	// Quote is the quoted excerpt, if the reply quoted one.
	Quote string `json:"quote,omitempty"`

	// Origin describes who wrote the quoted message when it lives elsewhere.
	Origin *Entity `json:"origin,omitempty"`
}

// ForwardRef describes where a forwarded message came from.
type ForwardRef struct {
	// OriginID is the user or chat id of the original author, zero if hidden.
	OriginID int64 `json:"origin_id,omitempty"`

	// OriginName is the display name the transport attached to the forward.
	OriginName string `json:"origin_name,omitempty"`

	// ChatID is the chat the forwarded message was posted in, if known.
	ChatID int64 `json:"chat_id,omitempty"`
}

// LinkPreview is the embedded web page preview of a message.
type LinkPreview struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Photo       *MediaRef `json:"photo,omitempty"`
}

// MediaRef identifies downloadable media. Exactly one of FileID or URL is set.
type MediaRef struct {
	FileID   string `json:"file_id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// IsReply reports whether the message answers another message.
func (m *Message) IsReply() bool {
	return m != nil && m.ReplyTo != nil
}

// IsForward reports whether the message was forwarded.
func (m *Message) IsForward() bool {
	return m != nil && m.Forward != nil
}

// HasPreview reports whether the message carries a link preview.
func (m *Message) HasPreview() bool {
	return m != nil && m.Preview != nil && m.Preview.URL != ""
}

// HasPhoto reports whether the message carries a photo attachment.
func (m *Message) HasPhoto() bool {
	return m != nil && m.Photo != nil
}

// ParentChatID returns the chat holding the reply parent.
func (m *Message) ParentChatID() int64 {
	if m.ReplyTo == nil || m.ReplyTo.ChatID == 0 {
		return m.ChatID
	}
	return m.ReplyTo.ChatID
}

// CrossChatReply reports whether the message replies to a message from
// another chat.
func (m *Message) CrossChatReply() bool {
	if m == nil || m.ReplyTo == nil {
		return false
	}
	return m.ReplyTo.ChatID != 0 && m.ReplyTo.ChatID != m.ChatID
}

// ForwardedFromOtherChat reports whether a forward originates outside the
// message's own chat.
func (m *Message) ForwardedFromOtherChat() bool {
	if m == nil || m.Forward == nil {
		return false
	}
	origin := m.Forward.ChatID
	if origin == 0 {
		origin = m.Forward.OriginID
	}
	return origin != m.ChatID
}
