package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	fedmodels "github.com/haasonsaas/fedorgpt/pkg/models"
)

// mockBotClient records calls and returns canned responses.
type mockBotClient struct {
	mu sync.Mutex

	me       *models.User
	meErr    error
	chats    map[string]*models.ChatFullInfo
	chatErr  error
	file     *models.File
	fileErr  error
	link     string
	sendErr  error
	reactErr error

	chatCalls     int
	sentMessages  []*bot.SendMessageParams
	reactions     []*bot.SetMessageReactionParams
	chatActions   []*bot.SendChatActionParams
	nextMessageID int
	started       chan struct{}
}

func newMockBotClient() *mockBotClient {
	return &mockBotClient{
		me:            &models.User{ID: 1000, IsBot: true, FirstName: "Fedor", LastName: "GPT", Username: "fedorgpt_bot"},
		chats:         map[string]*models.ChatFullInfo{},
		nextMessageID: 500,
		started:       make(chan struct{}),
	}
}

func (m *mockBotClient) GetMe(ctx context.Context) (*models.User, error) {
	if m.meErr != nil {
		return nil, m.meErr
	}
	return m.me, nil
}

func (m *mockBotClient) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	info, ok := m.chats[fmt.Sprint(params.ChatID)]
	if !ok {
		return nil, fmt.Errorf("%w, chat not found", bot.ErrorBadRequest)
	}
	return info, nil
}

func (m *mockBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	if m.fileErr != nil {
		return nil, m.fileErr
	}
	return m.file, nil
}

func (m *mockBotClient) FileDownloadLink(f *models.File) string {
	return m.link
}

func (m *mockBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, params)
	m.nextMessageID++
	chatID, _ := params.ChatID.(int64)
	return &models.Message{
		ID:   m.nextMessageID,
		Chat: models.Chat{ID: chatID, Type: models.ChatTypeSupergroup},
		From: m.me,
		Text: params.Text,
		Date: 1700000000,
	}, nil
}

func (m *mockBotClient) SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactErr != nil {
		return false, m.reactErr
	}
	m.reactions = append(m.reactions, params)
	return true, nil
}

func (m *mockBotClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatActions = append(m.chatActions, params)
	return true, nil
}

func (m *mockBotClient) Start(ctx context.Context) {
	close(m.started)
	<-ctx.Done()
}

// fakeJournal is an in-memory Journal.
type fakeJournal struct {
	mu       sync.Mutex
	messages map[string]*fedmodels.Message
	records  int
	err      error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{messages: map[string]*fedmodels.Message{}}
}

func journalKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func (j *fakeJournal) Record(ctx context.Context, msg *fedmodels.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records++
	if j.err != nil {
		return j.err
	}
	j.messages[journalKey(msg.ChatID, msg.ID)] = msg
	return nil
}

func (j *fakeJournal) Get(ctx context.Context, chatID int64, messageID int) (*fedmodels.Message, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	msg, ok := j.messages[journalKey(chatID, messageID)]
	if !ok {
		return nil, fmt.Errorf("no message %d:%d", chatID, messageID)
	}
	return msg, nil
}

func (j *fakeJournal) get(chatID int64, messageID int) *fedmodels.Message {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.messages[journalKey(chatID, messageID)]
}

type fakeImages struct {
	url string
}

func (f *fakeImages) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	f.url = rawURL
	return []byte("png"), "image/png", nil
}

// newTestAdapter builds an adapter around client with its client already
// connected.
func newTestAdapter(client *mockBotClient, journal *fakeJournal) *Adapter {
	a, err := NewAdapter(Config{Token: "123:secret"}, Options{
		Journal:   journal,
		Images:    &fakeImages{},
		NewClient: func(token string, handler bot.HandlerFunc) (BotClient, error) { return client, nil },
	})
	if err != nil {
		panic(err)
	}
	a.setClient(client)
	return a
}
