package policy

import "strconv"

// ScopeKind tags the variant held by a Scope.
type ScopeKind int

const (
	// ScopeNone means no tier qualifier was given.
	ScopeNone ScopeKind = iota
	// ScopeGlobal selects the user tier that applies in every chat.
	ScopeGlobal
	// ScopeChat selects a single chat.
	ScopeChat
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeChat:
		return "chat"
	default:
		return "none"
	}
}

// Scope qualifies a user policy lookup or mutation.
type Scope struct {
	kind   ScopeKind
	chatID int64
	title  string
}

// NoScope returns the unqualified scope.
func NoScope() Scope { return Scope{} }

// GlobalScope returns the scope of the "global" user tier.
func GlobalScope() Scope { return Scope{kind: ScopeGlobal} }

// ChatScope returns the scope of a single chat. title is only used for
// display.
func ChatScope(chatID int64, title string) Scope {
	return Scope{kind: ScopeChat, chatID: chatID, title: title}
}

// Kind returns the variant tag.
func (s Scope) Kind() ScopeKind { return s.kind }

// ChatID returns the chat id for ScopeChat, zero otherwise.
func (s Scope) ChatID() int64 { return s.chatID }

// Key returns the document key of the scope.
func (s Scope) Key() string {
	switch s.kind {
	case ScopeGlobal:
		return GlobalKey
	case ScopeChat:
		return strconv.FormatInt(s.chatID, 10)
	default:
		return ""
	}
}

// Title is a human readable name for replies and logs.
func (s Scope) Title() string {
	switch s.kind {
	case ScopeGlobal:
		return "Global"
	case ScopeChat:
		if s.title != "" {
			return s.title
		}
		return strconv.FormatInt(s.chatID, 10)
	default:
		return "None"
	}
}
