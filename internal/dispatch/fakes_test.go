package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
	"github.com/haasonsaas/fedorgpt/internal/mixins"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

const (
	botID   int64 = 1000
	ownerID int64 = 7
	aliceID int64 = 42
	chatID  int64 = -100
)

type sentReply struct {
	chatID  int64
	replyTo int
	text    string
}

type reaction struct {
	messageID int
	emoji     string
}

type fakeTransport struct {
	mu        sync.Mutex
	self      models.Entity
	selfErr   error
	entities  map[string]models.Entity
	messages  map[string]*models.Message
	failEmoji map[string]bool
	replyErr  error
	replies   []sentReply
	reactions []reaction
	typing    []bool
	nextID    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		self: models.Entity{ID: botID, Kind: models.EntityUser, FirstName: "Fedor", LastName: "GPT"},
		entities: map[string]models.Entity{
			strconv.FormatInt(chatID, 10): {ID: chatID, Kind: models.EntitySupergroup, Title: "Gophers"},
			"@alice":                      {ID: aliceID, Kind: models.EntityUser, FirstName: "Alice"},
		},
		messages:  make(map[string]*models.Message),
		failEmoji: make(map[string]bool),
		nextID:    5000,
	}
}

func (f *fakeTransport) Self(ctx context.Context) (models.Entity, error) {
	return f.self, f.selfErr
}

func (f *fakeTransport) GetEntity(ctx context.Context, ref string) (models.Entity, error) {
	if e, ok := f.entities[ref]; ok {
		return e, nil
	}
	return models.Entity{}, errors.New("not found")
}

func (f *fakeTransport) GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[anchor.Key(chatID, messageID)]; ok {
		return m, nil
	}
	return nil, errors.New("message not found")
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, ref models.MediaRef) ([]byte, string, error) {
	return []byte("img"), "image/jpeg", nil
}

func (f *fakeTransport) React(ctx context.Context, chatID int64, messageID int, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmoji["*"] || f.failEmoji[emoji] {
		return fmt.Errorf("REACTION_INVALID %s", emoji)
	}
	f.reactions = append(f.reactions, reaction{messageID: messageID, emoji: emoji})
	return nil
}

func (f *fakeTransport) Reply(ctx context.Context, chatID int64, replyTo int, text string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	f.replies = append(f.replies, sentReply{chatID: chatID, replyTo: replyTo, text: text})
	f.nextID++
	return &models.Message{ID: f.nextID, ChatID: chatID, Text: text, FromSelf: true, Sender: f.self}, nil
}

func (f *fakeTransport) SetTyping(ctx context.Context, chatID int64, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, on)
	return nil
}

func (f *fakeTransport) addMessage(m *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[anchor.Key(m.ChatID, m.ID)] = m
}

func (f *fakeTransport) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.replies...)
}

func (f *fakeTransport) typingCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.typing...)
}

type fakeMixins struct {
	mu    sync.Mutex
	kinds [][]mixins.Kind
	out   mixins.Mixin
}

func (f *fakeMixins) Build(ctx context.Context, msg *models.Message, kinds ...mixins.Kind) mixins.Mixin {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kinds)
	out := make(mixins.Mixin, len(f.out))
	for k, v := range f.out {
		out[k] = v
	}
	return out
}

func (f *fakeMixins) last() []mixins.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.kinds) == 0 {
		return nil
	}
	return f.kinds[len(f.kinds)-1]
}

type fakeAnchors struct {
	found anchor.Anchor
	err   error
	// block makes Resolve wait for ctx to end, like a stalled history walk.
	block bool
}

func (f *fakeAnchors) Resolve(ctx context.Context, msg *models.Message) (anchor.Anchor, error) {
	if f.block {
		<-ctx.Done()
		return anchor.Anchor{}, ctx.Err()
	}
	if f.err != nil {
		return anchor.Anchor{}, f.err
	}
	return f.found, nil
}

type invocation struct {
	prompt  string
	key     string
	payload map[string]any
}

type fakeReplies struct {
	mu       sync.Mutex
	calls    []invocation
	text     string
	err      error
	delay    time.Duration
	inFlight map[string]int
	overlap  atomic.Bool
}

func (f *fakeReplies) Invoke(ctx context.Context, prompt, key string, payload map[string]any) (string, error) {
	f.mu.Lock()
	if f.inFlight == nil {
		f.inFlight = make(map[string]int)
	}
	f.inFlight[key]++
	if f.inFlight[key] > 1 {
		f.overlap.Store(true)
	}
	f.calls = append(f.calls, invocation{prompt: prompt, key: key, payload: payload})
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight[key]--
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeReplies) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}
