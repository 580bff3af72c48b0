// Package triggers computes the effective trigger set and instruction
// overlays for a sender in a chat.
package triggers

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/settings"
)

// OverlayHeader opens the instruction overlay block.
const OverlayHeader = "# Specific Instructions - these override General Instructions, in order of importance:"

// Tier names the policy tier an overlay came from.
type Tier string

const (
	TierUserChat   Tier = "user_chat"
	TierUserGlobal Tier = "user_global"
	TierChat       Tier = "chat"
)

// Overlay is one ranked instruction. Rank 1 is the most specific.
type Overlay struct {
	Rank int
	Tier Tier
	Text string
}

// Resolution is the outcome of resolving policy for a (sender, chat) pair.
type Resolution struct {
	Triggers policy.TriggerSet
	Overlays []Overlay
}

// Has reports whether trigger t is active.
func (r Resolution) Has(t policy.Trigger) bool {
	return r.Triggers.Has(t)
}

// Blacklisted reports whether matches must be rejected.
func (r Resolution) Blacklisted() bool {
	return r.Triggers.Has(policy.TriggerBlacklist)
}

// Resolver reads policy from a settings store.
type Resolver struct {
	store settings.Store
}

// NewResolver creates a resolver over store.
func NewResolver(store settings.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve snapshots the store and resolves policy for senderID in chatID.
func (r *Resolver) Resolve(ctx context.Context, senderID, chatID int64) (Resolution, error) {
	doc, err := r.store.Snapshot(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("snapshot settings: %w", err)
	}
	return ResolveDocument(&doc, senderID, chatID), nil
}

// ResolveDocument unions the user+chat, user+global and chat tiers and
// collects their prompts most specific first, skipping blank ones.
func ResolveDocument(doc *policy.Document, senderID, chatID int64) Resolution {
	tiers := []struct {
		tier  Tier
		entry policy.Entry
	}{
		{TierUserChat, doc.User(senderID, policy.ChatScope(chatID, ""))},
		{TierUserGlobal, doc.User(senderID, policy.GlobalScope())},
		{TierChat, doc.Chat(chatID)},
	}

	var res Resolution
	for _, t := range tiers {
		res.Triggers = res.Triggers.Union(t.entry.Triggers)
		text := strings.TrimSpace(t.entry.Prompt)
		if text == "" {
			continue
		}
		res.Overlays = append(res.Overlays, Overlay{
			Rank: len(res.Overlays) + 1,
			Tier: t.tier,
			Text: text,
		})
	}
	return res
}

// ComposeOverlay renders overlays as a numbered block, or "" when there
// are none.
func ComposeOverlay(overlays []Overlay) string {
	if len(overlays) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(OverlayHeader)
	b.WriteByte('\n')
	for _, o := range overlays {
		fmt.Fprintf(&b, "%d. %s\n", o.Rank, o.Text)
	}
	return b.String()
}
