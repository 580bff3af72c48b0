package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
	"github.com/haasonsaas/fedorgpt/internal/commands"
	"github.com/haasonsaas/fedorgpt/internal/mixins"
	"github.com/haasonsaas/fedorgpt/internal/policy"
	"github.com/haasonsaas/fedorgpt/internal/settings"
	"github.com/haasonsaas/fedorgpt/internal/triggers"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

var testStarted = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine    *Engine
	transport *fakeTransport
	replies   *fakeReplies
	mixins    *fakeMixins
	anchors   *fakeAnchors
	store     *settings.MemoryStore
}

func newHarness(t *testing.T, doc policy.Document) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		replies:   &fakeReplies{text: "generated"},
		mixins:    &fakeMixins{},
		anchors:   &fakeAnchors{err: anchor.ErrNoAnchor},
		store:     settings.NewMemoryStore(doc),
	}

	registry := commands.NewRegistry(nil)
	if err := commands.NewAdmin(h.store, h.transport, nil).Register(registry); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	now := func() time.Time { return testStarted.Add(90 * time.Second) }
	if err := commands.RegisterUptime(registry, testStarted, now); err != nil {
		t.Fatalf("register uptime: %v", err)
	}

	engine, err := NewEngine(Config{
		OwnerID:        ownerID,
		TypingInterval: time.Hour,
		Location:       time.UTC,
		Now:            now,
	}, Dependencies{
		Transport: h.transport,
		Triggers:  triggers.NewResolver(h.store),
		Mixins:    h.mixins,
		Anchors:   h.anchors,
		Commands:  commands.NewInterpreter(registry, nil, nil),
		Replies:   h.replies,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	h.engine = engine
	return h
}

func chatDoc(triggerList ...policy.Trigger) policy.Document {
	doc := policy.NewDocument()
	doc.UpdateChat(chatID, func(e *policy.Entry) {
		e.Triggers = policy.NewTriggerSet(triggerList...)
	})
	return doc
}

func fromAlice(id int, text string) *models.Message {
	return &models.Message{
		ID:     id,
		ChatID: chatID,
		Sender: models.Entity{ID: aliceID, Kind: models.EntityUser, FirstName: "Alice"},
		Text:   text,
	}
}

func fromOwner(id int, text string) *models.Message {
	msg := fromAlice(id, text)
	msg.Sender = models.Entity{ID: ownerID, Kind: models.EntityUser, FirstName: "Owner"}
	return msg
}

func (h *harness) handle(t *testing.T, msg *models.Message) Outcome {
	t.Helper()
	out, err := h.engine.Handle(context.Background(), msg)
	if err != nil && out.Result != ResultFailed {
		t.Fatalf("Handle() error = %v with result %s", err, out.Result)
	}
	return out
}

func assertOutcome(t *testing.T, out Outcome, path Path, result Result) {
	t.Helper()
	if out.Path != path || out.Result != result {
		t.Fatalf("outcome = %s/%s, want %s/%s", out.Path, out.Result, path, result)
	}
	if out.EventID == "" {
		t.Error("outcome has no event id")
	}
}

func assertSingleReply(t *testing.T, h *harness, replyTo int, text string) {
	t.Helper()
	sent := h.transport.sent()
	if len(sent) != 1 {
		t.Fatalf("replies = %+v, want exactly one", sent)
	}
	if sent[0].chatID != chatID || sent[0].replyTo != replyTo || sent[0].text != text {
		t.Errorf("reply = %+v, want %q to %d", sent[0], text, replyTo)
	}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	if _, err := NewEngine(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error for missing transport")
	}
	if _, err := NewEngine(Config{OwnerID: -1}, Dependencies{}); err == nil {
		t.Fatal("expected error for negative owner id")
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.InvocationPrefix != "!fedorGPT" || cfg.ReplyMarker != "🤖" || cfg.AckFallback != "Ok 🫡" {
		t.Errorf("defaults = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.OKReactions, DefaultOKReactions) || !reflect.DeepEqual(cfg.RejectReactions, DefaultRejectReactions) {
		t.Errorf("reactions = %v / %v", cfg.OKReactions, cfg.RejectReactions)
	}
	if cfg.ExternalTimeout != DefaultExternalTimeout || cfg.Now == nil || cfg.Location == nil {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestHandle_Uptime(t *testing.T) {
	h := newHarness(t, policy.NewDocument())

	out := h.handle(t, fromAlice(10, "!uptime"))
	assertOutcome(t, out, PathUptime, ResultReplied)
	assertSingleReply(t, h, 10, "🤖 Alive for 1 minute and 30 seconds")
	if len(h.replies.invocations()) != 0 {
		t.Error("uptime reached the reply engine")
	}
}

func TestHandle_AdminDirectiveAcks(t *testing.T) {
	h := newHarness(t, policy.NewDocument())

	out := h.handle(t, fromOwner(11, "!chat.triggers here messages,embeds"))
	assertOutcome(t, out, PathCommand, ResultAcked)

	if len(h.transport.reactions) != 1 || h.transport.reactions[0] != (reaction{messageID: 11, emoji: "🫡"}) {
		t.Errorf("reactions = %+v", h.transport.reactions)
	}
	if len(h.transport.sent()) != 0 {
		t.Errorf("unexpected replies %+v", h.transport.sent())
	}

	doc, _ := h.store.Snapshot(context.Background())
	got := doc.Chat(chatID).Triggers
	if !got.Has(policy.TriggerMessages) || !got.Has(policy.TriggerEmbeds) {
		t.Errorf("chat triggers = %s", got)
	}
}

func TestHandle_AckFallsThroughReactions(t *testing.T) {
	h := newHarness(t, policy.NewDocument())
	h.transport.failEmoji["🫡"] = true
	h.transport.failEmoji["💅"] = true

	out := h.handle(t, fromOwner(12, "!chat.prompt here be brief"))
	assertOutcome(t, out, PathCommand, ResultAcked)
	if len(h.transport.reactions) != 1 || h.transport.reactions[0].emoji != "🔥" {
		t.Errorf("reactions = %+v, want 🔥", h.transport.reactions)
	}
}

func TestHandle_AckTextFallback(t *testing.T) {
	h := newHarness(t, policy.NewDocument())
	h.transport.failEmoji["*"] = true

	out := h.handle(t, fromOwner(13, "!chat.prompt here be brief"))
	assertOutcome(t, out, PathCommand, ResultAcked)
	assertSingleReply(t, h, 13, "🤖 Ok 🫡")
}

func TestHandle_BotAccountIsAdmin(t *testing.T) {
	h := newHarness(t, policy.NewDocument())
	msg := fromAlice(14, "!chat.triggers here quotes")
	msg.Sender = h.transport.self
	msg.FromSelf = true

	out := h.handle(t, msg)
	assertOutcome(t, out, PathCommand, ResultAcked)
}

func TestHandle_DirectiveErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"unknown trigger", "!chat.triggers here messages,bogus", "🤖 💀 Trigger(s) bogus unknown 💀"},
		{"unknown verb", "!chat.frobnicate", "🤖 💀 Unknown command `frobnicate` 💀"},
		{"missing arguments", "!chat.triggers here", "🤖 Usage: !chat.triggers <here|chat> <trigger,trigger,...>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, policy.NewDocument())
			out := h.handle(t, fromOwner(15, tt.text))
			assertOutcome(t, out, PathCommand, ResultReplied)
			assertSingleReply(t, h, 15, tt.want)

			doc, _ := h.store.Snapshot(context.Background())
			if !doc.Chat(chatID).IsZero() {
				t.Errorf("chat entry mutated: %+v", doc.Chat(chatID))
			}
		})
	}
}

func TestHandle_NonAdminDirectiveFallsThrough(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))

	out := h.handle(t, fromAlice(16, "!chat.triggers here blacklist"))
	assertOutcome(t, out, PathMessages, ResultReplied)

	doc, _ := h.store.Snapshot(context.Background())
	if doc.Chat(chatID).Triggers.Has(policy.TriggerBlacklist) {
		t.Error("non-admin directive changed settings")
	}
	calls := h.replies.invocations()
	if len(calls) != 1 || calls[0].payload["text"] != "!chat.triggers here blacklist" {
		t.Errorf("invocations = %+v", calls)
	}
}

func TestHandle_Invocation(t *testing.T) {
	h := newHarness(t, policy.NewDocument())
	h.mixins.out = mixins.Mixin{mixins.KeyImageDesc: "a cat"}

	out := h.handle(t, fromAlice(20, "!fedorGPT what is this?"))
	assertOutcome(t, out, PathInvocation, ResultReplied)
	if out.Anchor != anchor.Key(chatID, 20) {
		t.Errorf("anchor = %q", out.Anchor)
	}

	calls := h.replies.invocations()
	if len(calls) != 1 {
		t.Fatalf("invocations = %d, want 1", len(calls))
	}
	want := map[string]any{"name": "Alice", "text": "what is this?", mixins.KeyImageDesc: "a cat"}
	if !reflect.DeepEqual(calls[0].payload, want) {
		t.Errorf("payload = %v, want %v", calls[0].payload, want)
	}
	if calls[0].key != anchor.Key(chatID, 20) {
		t.Errorf("session key = %q", calls[0].key)
	}
	if got := h.mixins.last(); !reflect.DeepEqual(got, []mixins.Kind{mixins.Image}) {
		t.Errorf("mixin kinds = %v", got)
	}
	if typing := h.transport.typingCalls(); len(typing) != 0 {
		t.Errorf("typing = %v, want none for invocations", typing)
	}
	assertSingleReply(t, h, 20, "🤖 generated")
}

func TestHandle_InvocationPrefixMustStandAlone(t *testing.T) {
	for _, text := range []string{"!fedorGPTx hello", "!fedorGPT", "!fedorGPT   "} {
		t.Run(text, func(t *testing.T) {
			h := newHarness(t, policy.NewDocument())

			out := h.handle(t, fromAlice(21, text))
			assertOutcome(t, out, PathNone, ResultSilent)
			if len(h.replies.invocations()) != 0 {
				t.Error("reply engine invoked")
			}
		})
	}
}

func TestHandle_ForwardedInvocationIgnored(t *testing.T) {
	h := newHarness(t, policy.NewDocument())
	msg := fromAlice(22, "!fedorGPT hi")
	msg.Forward = &models.ForwardRef{OriginID: 99, ChatID: -555}

	out := h.handle(t, msg)
	assertOutcome(t, out, PathNone, ResultSilent)
}

func TestHandle_BlacklistRejects(t *testing.T) {
	doc := chatDoc(policy.TriggerMessages)
	doc.UpdateUser(aliceID, policy.GlobalScope(), func(e *policy.Entry) {
		e.Triggers = policy.NewTriggerSet(policy.TriggerBlacklist)
	})
	h := newHarness(t, doc)
	h.transport.failEmoji["🖕"] = true

	out := h.handle(t, fromAlice(23, "hello"))
	assertOutcome(t, out, PathMessages, ResultRejected)
	if len(h.transport.reactions) != 1 || h.transport.reactions[0].emoji != "💩" {
		t.Errorf("reactions = %+v", h.transport.reactions)
	}
	if len(h.replies.invocations()) != 0 || len(h.transport.sent()) != 0 {
		t.Error("blacklisted sender got a reply")
	}
}

func TestHandle_BlacklistAllReactionsFail(t *testing.T) {
	doc := chatDoc(policy.TriggerMessages, policy.TriggerBlacklist)
	h := newHarness(t, doc)
	h.transport.failEmoji["*"] = true

	out, err := h.engine.Handle(context.Background(), fromAlice(24, "hello"))
	if err == nil {
		t.Fatal("expected error")
	}
	assertOutcome(t, out, PathMessages, ResultFailed)
	if len(h.transport.sent()) != 0 {
		t.Error("rejection fell back to a text reply")
	}
}

func TestHandle_BlacklistAlsoCoversInvocation(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerBlacklist))

	out := h.handle(t, fromAlice(25, "!fedorGPT hi"))
	assertOutcome(t, out, PathInvocation, ResultRejected)
}

// botReply stores a bot message in the transport and returns a reply to it.
func botReply(h *harness, parentText string, fromSelf bool) *models.Message {
	parent := &models.Message{ID: 30, ChatID: chatID, Text: parentText, FromSelf: fromSelf}
	if fromSelf {
		parent.Sender = h.transport.self
	} else {
		parent.Sender = models.Entity{ID: 555, FirstName: "Someone"}
	}
	h.transport.addMessage(parent)

	msg := fromAlice(31, "tell me more")
	msg.ReplyTo = &models.ReplyRef{MessageID: 30, Quote: "excerpt"}
	return msg
}

func TestHandle_ReplyContinuesThread(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerGptReplies))
	h.anchors.err = nil
	h.anchors.found = anchor.Anchor{ChatID: chatID, MessageID: 3}

	out := h.handle(t, botReply(h, "🤖 earlier answer", true))
	assertOutcome(t, out, PathReply, ResultReplied)

	calls := h.replies.invocations()
	if len(calls) != 1 || calls[0].key != anchor.Key(chatID, 3) {
		t.Fatalf("invocations = %+v", calls)
	}
	if got := h.mixins.last(); !reflect.DeepEqual(got, []mixins.Kind{mixins.Image, mixins.Quote}) {
		t.Errorf("mixin kinds = %v", got)
	}
	if typing := h.transport.typingCalls(); !reflect.DeepEqual(typing, []bool{true, false}) {
		t.Errorf("typing = %v, want [true false]", typing)
	}
	assertSingleReply(t, h, 31, "🤖 generated")
}

func TestHandle_ReplyRules(t *testing.T) {
	tests := []struct {
		name       string
		triggers   []policy.Trigger
		parentText string
		fromSelf   bool
		anchorErr  error
		wantPath   Path
		wantResult Result
	}{
		{"gpt_replies to marked message", []policy.Trigger{policy.TriggerGptReplies}, "🤖 hi", true, nil, PathReply, ResultReplied},
		{"gpt_replies to unmarked bot message", []policy.Trigger{policy.TriggerGptReplies}, "manual", true, nil, PathReply, ResultSilent},
		{"all_replies to unmarked bot message", []policy.Trigger{policy.TriggerAllReplies}, "manual", true, nil, PathReply, ResultReplied},
		{"reply to someone else", []policy.Trigger{policy.TriggerAllReplies, policy.TriggerMessages}, "🤖 hi", false, nil, PathReply, ResultSilent},
		{"no reply trigger", []policy.Trigger{policy.TriggerMessages}, "🤖 hi", true, nil, PathMessages, ResultReplied},
		{"no anchor falls through", []policy.Trigger{policy.TriggerGptReplies, policy.TriggerMessages}, "🤖 hi", true, anchor.ErrNoAnchor, PathMessages, ResultReplied},
		{"no anchor and nothing else", []policy.Trigger{policy.TriggerGptReplies}, "🤖 hi", true, anchor.ErrNoAnchor, PathNone, ResultSilent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, chatDoc(tt.triggers...))
			h.anchors.err = tt.anchorErr
			h.anchors.found = anchor.Anchor{ChatID: chatID, MessageID: 30}

			out := h.handle(t, botReply(h, tt.parentText, tt.fromSelf))
			assertOutcome(t, out, tt.wantPath, tt.wantResult)

			wantCalls := 0
			if tt.wantResult == ResultReplied {
				wantCalls = 1
			}
			if got := len(h.replies.invocations()); got != wantCalls {
				t.Errorf("invocations = %d, want %d", got, wantCalls)
			}
		})
	}
}

func TestHandle_StalledAnchorWalkIsBounded(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerGptReplies, policy.TriggerMessages))
	h.engine.cfg.ExternalTimeout = 20 * time.Millisecond
	h.anchors.block = true

	msg := botReply(h, "🤖 hi", true)
	done := make(chan Outcome, 1)
	go func() {
		out, _ := h.engine.Handle(context.Background(), msg)
		done <- out
	}()

	select {
	case out := <-done:
		assertOutcome(t, out, PathMessages, ResultReplied)
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after the anchor walk stalled")
	}
}

func TestHandle_ReplyParentUnavailableFallsThrough(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerGptReplies, policy.TriggerMessages))
	msg := fromAlice(32, "hm")
	msg.ReplyTo = &models.ReplyRef{MessageID: 404}

	out := h.handle(t, msg)
	assertOutcome(t, out, PathMessages, ResultReplied)
}

func TestHandle_TriggerPaths(t *testing.T) {
	forwarded := func() *models.Message {
		m := fromAlice(40, "forwarded text")
		m.Forward = &models.ForwardRef{OriginID: 77, ChatID: -999}
		return m
	}
	embedded := func() *models.Message {
		m := fromAlice(41, "look https://go.dev")
		m.Preview = &models.LinkPreview{URL: "https://go.dev"}
		return m
	}
	quoted := func() *models.Message {
		m := fromAlice(42, "thoughts?")
		m.ReplyTo = &models.ReplyRef{MessageID: 9, ChatID: -999, Quote: "elsewhere"}
		return m
	}

	tests := []struct {
		name      string
		triggers  []policy.Trigger
		msg       *models.Message
		wantPath  Path
		wantText  string
		wantKinds []mixins.Kind
	}{
		{"messages", []policy.Trigger{policy.TriggerMessages}, fromAlice(43, "hey"), PathMessages, "hey",
			[]mixins.Kind{mixins.Image, mixins.Embed, mixins.Forward, mixins.Quote}},
		{"forwards", []policy.Trigger{policy.TriggerForwards}, forwarded(), PathForwards, "",
			[]mixins.Kind{mixins.Image, mixins.Forward, mixins.Embed}},
		{"embeds", []policy.Trigger{policy.TriggerEmbeds}, embedded(), PathEmbeds, "look https://go.dev",
			[]mixins.Kind{mixins.Image, mixins.Embed}},
		{"quotes", []policy.Trigger{policy.TriggerQuotes}, quoted(), PathQuotes, "thoughts?",
			[]mixins.Kind{mixins.Image, mixins.Embed, mixins.Quote}},
		{"messages wins over embeds", []policy.Trigger{policy.TriggerEmbeds, policy.TriggerMessages}, embedded(), PathMessages, "look https://go.dev",
			[]mixins.Kind{mixins.Image, mixins.Embed, mixins.Forward, mixins.Quote}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, chatDoc(tt.triggers...))

			out := h.handle(t, tt.msg)
			assertOutcome(t, out, tt.wantPath, ResultReplied)
			if out.Anchor != anchor.Key(chatID, tt.msg.ID) {
				t.Errorf("anchor = %q", out.Anchor)
			}

			calls := h.replies.invocations()
			if len(calls) != 1 || calls[0].payload["text"] != tt.wantText {
				t.Fatalf("invocations = %+v", calls)
			}
			if got := h.mixins.last(); !reflect.DeepEqual(got, tt.wantKinds) {
				t.Errorf("mixin kinds = %v, want %v", got, tt.wantKinds)
			}
			if typing := h.transport.typingCalls(); !reflect.DeepEqual(typing, []bool{true, false}) {
				t.Errorf("typing = %v", typing)
			}
		})
	}
}

func TestHandle_TriggerPreconditions(t *testing.T) {
	sameChatForward := fromAlice(50, "fwd")
	sameChatForward.Forward = &models.ForwardRef{OriginID: 77, ChatID: chatID}

	sameChatQuote := fromAlice(51, "q")
	sameChatQuote.ReplyTo = &models.ReplyRef{MessageID: 9, Quote: "here"}

	tests := []struct {
		name     string
		triggers []policy.Trigger
		msg      *models.Message
	}{
		{"no triggers", nil, fromAlice(52, "hello")},
		{"forwards without forward", []policy.Trigger{policy.TriggerForwards}, fromAlice(53, "hello")},
		{"forward from same chat", []policy.Trigger{policy.TriggerForwards}, sameChatForward},
		{"embeds without preview", []policy.Trigger{policy.TriggerEmbeds}, fromAlice(54, "plain")},
		{"quote from same chat", []policy.Trigger{policy.TriggerQuotes}, sameChatQuote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, chatDoc(tt.triggers...))
			out := h.handle(t, tt.msg)
			assertOutcome(t, out, PathNone, ResultSilent)
			if len(h.replies.invocations()) != 0 || len(h.transport.sent()) != 0 {
				t.Error("silent path produced output")
			}
		})
	}
}

func TestHandle_UserTierEnablesTriggers(t *testing.T) {
	doc := policy.NewDocument()
	doc.UpdateUser(aliceID, policy.ChatScope(chatID, "Gophers"), func(e *policy.Entry) {
		e.Triggers = policy.NewTriggerSet(policy.TriggerMessages)
	})
	h := newHarness(t, doc)

	out := h.handle(t, fromAlice(55, "hi"))
	assertOutcome(t, out, PathMessages, ResultReplied)

	other := fromAlice(56, "hi")
	other.Sender.ID = 9999
	out = h.handle(t, other)
	assertOutcome(t, out, PathNone, ResultSilent)
}

func TestHandle_SystemPrompt(t *testing.T) {
	doc := chatDoc(policy.TriggerMessages)
	doc.UpdateChat(chatID, func(e *policy.Entry) { e.Prompt = "Answer in French." })
	doc.UpdateUser(aliceID, policy.GlobalScope(), func(e *policy.Entry) { e.Prompt = "Be rude." })
	h := newHarness(t, doc)

	h.handle(t, fromAlice(60, "bonjour"))
	calls := h.replies.invocations()
	if len(calls) != 1 {
		t.Fatalf("invocations = %d", len(calls))
	}
	prompt := calls[0].prompt
	for _, want := range []string{"Your name is Fedor GPT", "12:01", "Answer in French.", "Be rude."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "Be rude.") > strings.Index(prompt, "Answer in French.") {
		t.Error("user overlay should precede the chat overlay")
	}
}

func TestHandle_ReplyEngineFailure(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.replies.err = errors.New("upstream 500")

	out, err := h.engine.Handle(context.Background(), fromAlice(61, "hi"))
	if err == nil {
		t.Fatal("expected error")
	}
	assertOutcome(t, out, PathMessages, ResultFailed)
	if len(h.transport.sent()) != 0 {
		t.Errorf("replies = %+v, want none", h.transport.sent())
	}
	if typing := h.transport.typingCalls(); len(typing) == 0 || typing[len(typing)-1] {
		t.Errorf("typing not cleared: %v", typing)
	}
}

func TestHandle_SendFailure(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.transport.replyErr = errors.New("chat write forbidden")

	out, err := h.engine.Handle(context.Background(), fromAlice(62, "hi"))
	if err == nil {
		t.Fatal("expected error")
	}
	assertOutcome(t, out, PathMessages, ResultFailed)
}

func TestHandle_LongReplySplitsWithMarker(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.engine.chunker.MaxSize = 20
	h.replies.text = "first paragraph\n\nsecond paragraph"

	out := h.handle(t, fromAlice(63, "hi"))
	assertOutcome(t, out, PathMessages, ResultReplied)

	sent := h.transport.sent()
	if len(sent) != 2 {
		t.Fatalf("replies = %+v, want two parts", sent)
	}
	for i, want := range []string{"🤖 first paragraph", "🤖 second paragraph"} {
		if sent[i].text != want || sent[i].replyTo != 63 {
			t.Errorf("part %d = %+v, want %q", i, sent[i], want)
		}
	}
}

func TestHandle_EmptyReplyFails(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.replies.text = ""

	out, err := h.engine.Handle(context.Background(), fromAlice(64, "hi"))
	if err == nil {
		t.Fatal("expected error for empty reply")
	}
	assertOutcome(t, out, PathMessages, ResultFailed)
	if sent := h.transport.sent(); len(sent) != 0 {
		t.Errorf("replies = %+v, want none", sent)
	}
}

func TestHandle_IgnoresOwnGeneratedMessages(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	msg := fromAlice(63, "🤖 generated")
	msg.Sender = h.transport.self
	msg.FromSelf = true

	out := h.handle(t, msg)
	assertOutcome(t, out, PathNone, ResultSilent)
	if len(h.replies.invocations()) != 0 {
		t.Error("bot answered itself")
	}
}

func TestHandle_AnonymousSenderIgnored(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	msg := fromAlice(64, "hi")
	msg.Sender = models.Entity{}

	out := h.handle(t, msg)
	assertOutcome(t, out, PathNone, ResultSilent)
}

func TestHandle_SelfLookupFailure(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.transport.selfErr = errors.New("unauthorized")

	out, err := h.engine.Handle(context.Background(), fromAlice(65, "hi"))
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Result != ResultFailed {
		t.Errorf("result = %s", out.Result)
	}
}

func TestHandle_SerializesPerAnchor(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerGptReplies, policy.TriggerMessages))
	h.anchors.err = nil
	h.anchors.found = anchor.Anchor{ChatID: chatID, MessageID: 30}
	h.replies.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		msg := botReply(h, "🤖 root", true)
		msg.ID = 100 + i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Handle(context.Background(), msg)
		}()
	}
	wg.Wait()

	if got := len(h.replies.invocations()); got != 4 {
		t.Fatalf("invocations = %d, want 4", got)
	}
	if h.replies.overlap.Load() {
		t.Error("two generations for the same anchor overlapped")
	}
}

func TestHandle_DifferentAnchorsRunConcurrently(t *testing.T) {
	h := newHarness(t, chatDoc(policy.TriggerMessages))
	h.replies.delay = 100 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		msg := fromAlice(200+i, "hi")
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Handle(context.Background(), msg)
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed >= 280*time.Millisecond {
		t.Errorf("independent conversations took %v, want overlap", elapsed)
	}
}
