package triggers

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/settings"
)

const (
	sender int64 = 42
	chat   int64 = -1001
)

func TestResolveDocument_UnionOfTiers(t *testing.T) {
	doc := policy.NewDocument()
	doc.UpdateChat(chat, func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerEmbeds) })
	doc.UpdateUser(sender, policy.GlobalScope(), func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerQuotes) })
	doc.UpdateUser(sender, policy.ChatScope(chat, ""), func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerMessages) })

	res := ResolveDocument(&doc, sender, chat)
	want := policy.NewTriggerSet(policy.TriggerEmbeds, policy.TriggerQuotes, policy.TriggerMessages)
	if res.Triggers != want {
		t.Errorf("Triggers = %v, want %v", res.Triggers, want)
	}
}

func TestResolveDocument_OtherUsersAndChatsIgnored(t *testing.T) {
	doc := policy.NewDocument()
	doc.UpdateChat(chat+1, func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerMessages) })
	doc.UpdateUser(sender+1, policy.GlobalScope(), func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerBlacklist) })
	doc.UpdateUser(sender, policy.ChatScope(chat+1, ""), func(e *policy.Entry) { e.Prompt = "elsewhere" })

	res := ResolveDocument(&doc, sender, chat)
	if !res.Triggers.Empty() {
		t.Errorf("Triggers = %v, want empty", res.Triggers)
	}
	if len(res.Overlays) != 0 {
		t.Errorf("Overlays = %v, want none", res.Overlays)
	}
}

func TestResolveDocument_OverlayOrder(t *testing.T) {
	tests := []struct {
		name     string
		userChat string
		global   string
		chatP    string
		want     []Overlay
	}{
		{
			name:     "all three",
			userChat: "A", global: "B", chatP: "C",
			want: []Overlay{{1, TierUserChat, "A"}, {2, TierUserGlobal, "B"}, {3, TierChat, "C"}},
		},
		{
			name:   "blank middle skipped",
			global: "  ", userChat: "A", chatP: "C",
			want: []Overlay{{1, TierUserChat, "A"}, {2, TierChat, "C"}},
		},
		{
			name:  "chat only",
			chatP: "C",
			want:  []Overlay{{1, TierChat, "C"}},
		},
		{
			name: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := policy.NewDocument()
			doc.UpdateUser(sender, policy.ChatScope(chat, ""), func(e *policy.Entry) { e.Prompt = tt.userChat })
			doc.UpdateUser(sender, policy.GlobalScope(), func(e *policy.Entry) { e.Prompt = tt.global })
			doc.UpdateChat(chat, func(e *policy.Entry) { e.Prompt = tt.chatP })

			res := ResolveDocument(&doc, sender, chat)
			if len(res.Overlays) != len(tt.want) {
				t.Fatalf("Overlays = %+v, want %+v", res.Overlays, tt.want)
			}
			for i := range tt.want {
				if res.Overlays[i] != tt.want[i] {
					t.Errorf("Overlays[%d] = %+v, want %+v", i, res.Overlays[i], tt.want[i])
				}
			}
		})
	}
}

func TestComposeOverlay(t *testing.T) {
	if got := ComposeOverlay(nil); got != "" {
		t.Errorf("ComposeOverlay(nil) = %q, want empty", got)
	}

	got := ComposeOverlay([]Overlay{{Rank: 1, Text: "A"}, {Rank: 2, Text: "C"}})
	want := OverlayHeader + "\n1. A\n2. C\n"
	if got != want {
		t.Errorf("ComposeOverlay() = %q, want %q", got, want)
	}
}

func TestResolver_Resolve(t *testing.T) {
	doc := policy.NewDocument()
	doc.UpdateChat(chat, func(e *policy.Entry) { e.Triggers = policy.NewTriggerSet(policy.TriggerBlacklist) })
	r := NewResolver(settings.NewMemoryStore(doc))

	res, err := r.Resolve(context.Background(), sender, chat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Blacklisted() {
		t.Error("expected blacklist")
	}
}

type failingStore struct{}

func (failingStore) Snapshot(context.Context) (policy.Document, error) {
	return policy.Document{}, errors.New("disk gone")
}

func (failingStore) Update(context.Context, func(*policy.Document) error) error {
	return errors.New("disk gone")
}

func TestResolver_ResolveError(t *testing.T) {
	r := NewResolver(failingStore{})
	if _, err := r.Resolve(context.Background(), sender, chat); err == nil {
		t.Fatal("expected error")
	}
}
