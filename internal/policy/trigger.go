package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Trigger enables one response path for a chat or user.
type Trigger string

const (
	// TriggerEmbeds replies to messages carrying a link preview.
	TriggerEmbeds Trigger = "embeds"
	// TriggerForwards replies to messages forwarded from another chat.
	TriggerForwards Trigger = "forwards"
	// TriggerMessages replies to every message.
	TriggerMessages Trigger = "messages"
	// TriggerQuotes replies to quotes of messages from another chat.
	TriggerQuotes Trigger = "quotes"
	// TriggerGptReplies continues threads started by the bot.
	TriggerGptReplies Trigger = "gpt_replies"
	// TriggerAllReplies continues any thread answered by the bot account.
	TriggerAllReplies Trigger = "all_replies"
	// TriggerBlacklist turns every match into a rejection reaction.
	TriggerBlacklist Trigger = "blacklist"
)

// AllTriggers lists every trigger in canonical order.
var AllTriggers = []Trigger{
	TriggerEmbeds,
	TriggerForwards,
	TriggerMessages,
	TriggerQuotes,
	TriggerGptReplies,
	TriggerAllReplies,
	TriggerBlacklist,
}

// NormalizeTrigger maps a raw token to a Trigger.
// Returns false if the token is not recognized.
func NormalizeTrigger(raw string) (Trigger, bool) {
	value := Trigger(strings.TrimSpace(strings.ToLower(raw)))
	for _, t := range AllTriggers {
		if t == value {
			return t, true
		}
	}
	return "", false
}

func (t Trigger) bit() TriggerSet {
	for i, known := range AllTriggers {
		if known == t {
			return 1 << i
		}
	}
	return 0
}

// TriggerSet is an unordered set of triggers.
type TriggerSet uint16

// NewTriggerSet builds a set, ignoring unknown triggers.
func NewTriggerSet(triggers ...Trigger) TriggerSet {
	var s TriggerSet
	for _, t := range triggers {
		s |= t.bit()
	}
	return s
}

// Has reports whether t is in the set.
func (s TriggerSet) Has(t Trigger) bool {
	b := t.bit()
	return b != 0 && s&b != 0
}

// Union returns the triggers present in either set.
func (s TriggerSet) Union(other TriggerSet) TriggerSet {
	return s | other
}

// Empty reports whether the set holds no triggers.
func (s TriggerSet) Empty() bool {
	return s == 0
}

// List returns the triggers in canonical order.
func (s TriggerSet) List() []Trigger {
	out := make([]Trigger, 0, len(AllTriggers))
	for _, t := range AllTriggers {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TriggerSet) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, t := range list {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON renders the set as a list of wire tokens.
func (s TriggerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON accepts a list of wire tokens. Like ParseTriggers it
// rejects the whole list when any token is unknown, so a typo in the
// settings file fails the load instead of being dropped on the next write.
func (s *TriggerSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var (
		set     TriggerSet
		unknown []string
	)
	for _, token := range raw {
		t, ok := NormalizeTrigger(token)
		if !ok {
			unknown = append(unknown, token)
			continue
		}
		set |= t.bit()
	}
	if len(unknown) > 0 {
		return &UnknownTriggersError{Tokens: unknown}
	}
	*s = set
	return nil
}

// UnknownTriggersError names every token that failed to parse.
type UnknownTriggersError struct {
	Tokens []string
}

func (e *UnknownTriggersError) Error() string {
	return fmt.Sprintf("Trigger(s) %s unknown", strings.Join(e.Tokens, ", "))
}

// ParseTriggers parses a comma separated trigger list. The list is
// validated as a whole: any unknown token fails the entire list.
// Blank tokens are skipped, so an empty list yields the empty set.
func ParseTriggers(csv string) (TriggerSet, error) {
	var (
		set     TriggerSet
		unknown []string
	)
	for _, token := range strings.Split(csv, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		t, ok := NormalizeTrigger(token)
		if !ok {
			unknown = append(unknown, token)
			continue
		}
		set |= t.bit()
	}
	if len(unknown) > 0 {
		return 0, &UnknownTriggersError{Tokens: unknown}
	}
	return set, nil
}
