package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of *bot.Bot the adapter uses, so tests can
// inject a mock.
type BotClient interface {
	GetMe(ctx context.Context) (*models.User, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)

	// Start long-polls for updates until ctx is done.
	Start(ctx context.Context)
}

// ClientFactory connects a BotClient delivering updates to handler.
type ClientFactory func(token string, handler bot.HandlerFunc) (BotClient, error)

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

// newRealBotClient creates a bot; bot.New verifies the token with getMe.
func newRealBotClient(token string, handler bot.HandlerFunc) (BotClient, error) {
	b, err := bot.New(token, bot.WithDefaultHandler(handler))
	if err != nil {
		return nil, err
	}
	return &realBotClient{bot: b}, nil
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	return r.bot.GetChat(ctx, params)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) FileDownloadLink(f *models.File) string {
	return r.bot.FileDownloadLink(f)
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error) {
	return r.bot.SetMessageReaction(ctx, params)
}

func (r *realBotClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return r.bot.SendChatAction(ctx, params)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
