// Package policy defines the per-chat and per-user trigger policy model.
package policy

import (
	"sort"
	"strconv"
	"strings"
)

// GlobalKey is the user tier key that applies in every chat.
const GlobalKey = "global"

// Entry is one policy tier: the triggers it enables and an optional
// instruction overlay for the reply engine.
type Entry struct {
	Triggers TriggerSet `json:"triggers"`
	Prompt   string     `json:"prompt,omitempty"`
}

// IsZero reports whether the entry carries neither triggers nor a prompt.
func (e Entry) IsZero() bool {
	return e.Triggers.Empty() && strings.TrimSpace(e.Prompt) == ""
}

// Document is the full persisted policy state.
// Chats maps chat id to entry; Users maps user id to chat id (or GlobalKey)
// to entry. Missing keys read as the zero Entry.
type Document struct {
	Users map[string]map[string]Entry `json:"USERS"`
	Chats map[string]Entry            `json:"CHATS"`
}

// NewDocument returns an empty document with initialized maps.
func NewDocument() Document {
	return Document{
		Users: make(map[string]map[string]Entry),
		Chats: make(map[string]Entry),
	}
}

// IDKey renders a numeric id as a document key.
func IDKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Chat returns the chat tier for chatID.
func (d *Document) Chat(chatID int64) Entry {
	if d == nil || d.Chats == nil {
		return Entry{}
	}
	return d.Chats[IDKey(chatID)]
}

// User returns the user tier for userID under scope. ScopeNone yields the
// zero Entry; use UserEntries for the full mapping.
func (d *Document) User(userID int64, scope Scope) Entry {
	if d == nil || d.Users == nil || scope.Kind() == ScopeNone {
		return Entry{}
	}
	return d.Users[IDKey(userID)][scope.Key()]
}

// UserEntries returns every tier stored for userID.
func (d *Document) UserEntries(userID int64) map[string]Entry {
	out := make(map[string]Entry)
	if d == nil || d.Users == nil {
		return out
	}
	for k, v := range d.Users[IDKey(userID)] {
		out[k] = v
	}
	return out
}

// UpdateChat applies fn to the chat tier for chatID.
func (d *Document) UpdateChat(chatID int64, fn func(*Entry)) {
	if d.Chats == nil {
		d.Chats = make(map[string]Entry)
	}
	key := IDKey(chatID)
	entry := d.Chats[key]
	fn(&entry)
	d.Chats[key] = entry
}

// UpdateUser applies fn to the user tier selected by scope. ScopeNone is a
// no-op.
func (d *Document) UpdateUser(userID int64, scope Scope, fn func(*Entry)) {
	if scope.Kind() == ScopeNone {
		return
	}
	if d.Users == nil {
		d.Users = make(map[string]map[string]Entry)
	}
	userKey := IDKey(userID)
	tiers := d.Users[userKey]
	if tiers == nil {
		tiers = make(map[string]Entry)
		d.Users[userKey] = tiers
	}
	entry := tiers[scope.Key()]
	fn(&entry)
	tiers[scope.Key()] = entry
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := NewDocument()
	for chat, entry := range d.Chats {
		out.Chats[chat] = entry
	}
	for user, tiers := range d.Users {
		copied := make(map[string]Entry, len(tiers))
		for k, v := range tiers {
			copied[k] = v
		}
		out.Users[user] = copied
	}
	return out
}

// SortedKeys returns the keys of m in a stable order.
func SortedKeys(m map[string]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
