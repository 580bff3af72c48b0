package models

import (
	"strconv"
	"strings"
)

// EntityKind distinguishes users from the different chat types.
type EntityKind string

const (
	EntityUser       EntityKind = "user"
	EntityPrivate    EntityKind = "private"
	EntityGroup      EntityKind = "group"
	EntitySupergroup EntityKind = "supergroup"
	EntityChannel    EntityKind = "channel"
)

// Entity is a user or chat as reported by the transport.
type Entity struct {
	ID        int64      `json:"id"`
	Kind      EntityKind `json:"kind,omitempty"`
	Title     string     `json:"title,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Username  string     `json:"username,omitempty"`
}

// IsGroupLike reports whether the entity is a group, supergroup or channel.
func (e Entity) IsGroupLike() bool {
	switch e.Kind {
	case EntityGroup, EntitySupergroup, EntityChannel:
		return true
	}
	return false
}

// DisplayName picks the title of group-like entities, otherwise the
// first and last name, otherwise the username.
func (e Entity) DisplayName() string {
	if e.Title != "" {
		return e.Title
	}
	full := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
	if full != "" {
		return full
	}
	return e.Username
}

// Label is DisplayName falling back to the numeric id.
func (e Entity) Label() string {
	if name := e.DisplayName(); name != "" {
		return name
	}
	return strconv.FormatInt(e.ID, 10)
}
