// Package telegram connects the dispatcher to the Telegram Bot API: it
// long-polls updates into an event channel and implements the transport
// operations replies, reactions and lookups go through.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/fedorgpt/internal/cache"
	"github.com/haasonsaas/fedorgpt/internal/channels"
	"github.com/haasonsaas/fedorgpt/internal/observability"
	fedmodels "github.com/haasonsaas/fedorgpt/pkg/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	// MaxReconnectAttempts bounds connection attempts at start.
	MaxReconnectAttempts int

	// ReconnectDelay is the delay between connection attempts.
	ReconnectDelay time.Duration

	// RateLimit and RateBurst bound API calls overall, per second.
	RateLimit float64
	RateBurst int

	// ChatRateLimit and ChatRateBurst bound sends into a single chat.
	ChatRateLimit float64
	ChatRateBurst int

	// BufferSize is the capacity of the event channel.
	BufferSize int

	// MaxFileBytes caps media downloads.
	MaxFileBytes int64

	// EntityCacheTTL is how long chat and user lookups are cached.
	EntityCacheTTL time.Duration

	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 30 // Telegram's global limit is ~30 messages per second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.ChatRateLimit <= 0 {
		c.ChatRateLimit = 1
	}
	if c.ChatRateBurst <= 0 {
		c.ChatRateBurst = 3
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 20 << 20 // Bot API download limit
	}
	if c.EntityCacheTTL <= 0 {
		c.EntityCacheTTL = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Journal stores every message the adapter sees or sends.
type Journal interface {
	Record(ctx context.Context, msg *fedmodels.Message) error
	Get(ctx context.Context, chatID int64, messageID int) (*fedmodels.Message, error)
}

// ImageFetcher downloads images referenced by URL.
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Options are the adapter's collaborators. Journal is required.
type Options struct {
	Journal Journal
	Images  ImageFetcher
	Metrics *observability.Metrics

	// NewClient overrides how the bot client is created.
	NewClient ClientFactory

	// HTTPClient downloads files from the Bot API file endpoint.
	HTTPClient *http.Client
}

var _ channels.Adapter = (*Adapter)(nil)

// Adapter is a Telegram bot connection.
type Adapter struct {
	config     Config
	newClient  ClientFactory
	journal    Journal
	images     ImageFetcher
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger

	client   BotClient
	clientMu sync.RWMutex

	self   fedmodels.Entity
	selfMu sync.RWMutex

	events   chan *fedmodels.Message
	eventsMu sync.RWMutex
	closed   bool

	limiter  *channels.ChatLimiter
	seen     *cache.DedupeCache
	entities *cache.TTL[fedmodels.Entity]

	status     channels.Status
	statusMu   sync.RWMutex
	degraded   bool
	degradedMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter validates config and creates an adapter. Nothing connects
// until Start.
func NewAdapter(config Config, opts Options) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts.Journal == nil {
		return nil, channels.ErrConfig("journal is required", nil)
	}
	if opts.NewClient == nil {
		opts.NewClient = newRealBotClient
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Adapter{
		config:     config,
		newClient:  opts.NewClient,
		journal:    opts.Journal,
		images:     opts.Images,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		logger:     config.Logger.With("adapter", "telegram"),
		events:     make(chan *fedmodels.Message, config.BufferSize),
		limiter:    channels.NewChatLimiter(config.RateLimit, config.RateBurst, config.ChatRateLimit, config.ChatRateBurst),
		seen:       cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: time.Hour, MaxSize: 4096}),
		entities:   cache.NewTTL[fedmodels.Entity](1024, config.EntityCacheTTL),
	}, nil
}

// Start connects to Telegram and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.logger.Info("starting telegram adapter", "rate_limit", a.config.RateLimit)

	client, err := a.connect(ctx)
	if err != nil {
		cancel()
		a.updateStatus(false, fmt.Sprintf("failed to create bot: %v", err))
		a.recordError(channels.ErrCodeAuthentication)
		a.closeEvents()
		return channels.ErrAuthentication("failed to create bot", err)
	}
	a.setClient(client)

	if _, err := a.Self(ctx); err != nil {
		cancel()
		a.closeEvents()
		return err
	}

	a.wg.Add(1)
	go a.poll(ctx, client)

	a.logger.Info("telegram adapter started successfully", "bot_id", a.selfID())
	return nil
}

// connect creates the bot client, retrying transient failures.
func (a *Adapter) connect(ctx context.Context) (BotClient, error) {
	maxAttempts := a.config.MaxReconnectAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err := a.newClient(a.config.Token, a.handleUpdate)
		if err == nil {
			a.setDegraded(attempt > 1)
			return client, nil
		}
		lastErr = err
		a.updateStatus(false, fmt.Sprintf("bot error (attempt %d/%d)", attempt, maxAttempts))
		a.logger.Error("telegram bot error",
			"error", err,
			"attempt", attempt,
			"max_attempts", maxAttempts)

		if errors.Is(err, bot.ErrorUnauthorized) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.config.ReconnectDelay):
			a.logger.Info("attempting to reconnect")
		}
	}
	return nil, lastErr
}

// poll runs the long-polling loop until ctx is done.
func (a *Adapter) poll(ctx context.Context, client BotClient) {
	defer a.wg.Done()
	defer a.closeEvents()

	a.updateStatus(true, "")
	client.Start(ctx)
	a.updateStatus(false, "")
	a.logger.Info("telegram adapter stopped")
}

// handleUpdate journals every message and forwards new ones as events.
// Edits only refresh the journal.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	var (
		raw     *models.Message
		kind    string
		deliver bool
	)
	switch {
	case update.Message != nil:
		raw, kind, deliver = update.Message, "message", true
	case update.ChannelPost != nil:
		raw, kind, deliver = update.ChannelPost, "message", true
	case update.EditedMessage != nil:
		raw, kind = update.EditedMessage, "edit"
	case update.EditedChannelPost != nil:
		raw, kind = update.EditedChannelPost, "edit"
	default:
		return
	}

	if deliver && a.seen.Check(cache.MessageDedupeKey(kind, raw.Chat.ID, raw.ID)) {
		a.logger.Debug("duplicate update ignored", "chat_id", raw.Chat.ID, "message_id", raw.ID)
		return
	}

	msg := convertMessage(raw, a.selfID())
	if err := a.journal.Record(ctx, msg); err != nil {
		a.logger.Warn("failed to journal message", "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		a.metrics.RecordError("journal", "record")
	}
	a.updateLastPing()

	if !deliver {
		return
	}
	a.logger.Debug("received message",
		"chat_id", msg.ChatID,
		"message_id", msg.ID,
		"sender_id", msg.Sender.ID)
	a.deliver(ctx, msg)
}

func (a *Adapter) deliver(ctx context.Context, msg *fedmodels.Message) {
	a.eventsMu.RLock()
	defer a.eventsMu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("event channel full, dropping message", "chat_id", msg.ChatID, "message_id", msg.ID)
		a.metrics.RecordError("telegram", "dropped")
	}
}

func (a *Adapter) closeEvents() {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping telegram adapter")
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("telegram adapter stopped gracefully")
		return nil
	case <-ctx.Done():
		a.recordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Events returns inbound messages. It is closed when the adapter stops.
func (a *Adapter) Events() <-chan *fedmodels.Message {
	return a.events
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// HealthCheck calls getMe to verify authentication and connectivity.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	startTime := time.Now()
	health := channels.HealthStatus{LastCheck: startTime}

	client, err := a.botClient()
	if err != nil {
		health.Message = "bot not initialized"
		health.Latency = time.Since(startTime)
		return health
	}

	_, err = client.GetMe(ctx)
	health.Latency = time.Since(startTime)
	if err != nil {
		health.Message = fmt.Sprintf("health check failed: %v", err)
		a.logger.Warn("health check failed", "error", err, "latency_ms", health.Latency.Milliseconds())
		return health
	}

	health.Healthy = true
	health.Degraded = a.isDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

func (a *Adapter) setClient(client BotClient) {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	a.client = client
}

func (a *Adapter) botClient() (BotClient, error) {
	a.clientMu.RLock()
	defer a.clientMu.RUnlock()
	if a.client == nil {
		return nil, channels.ErrInternal("bot not initialized", nil)
	}
	return a.client, nil
}

func (a *Adapter) selfID() int64 {
	a.selfMu.RLock()
	defer a.selfMu.RUnlock()
	return a.self.ID
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
}

func (a *Adapter) updateLastPing() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.LastPing = time.Now().Unix()
}

func (a *Adapter) setDegraded(degraded bool) {
	a.degradedMu.Lock()
	defer a.degradedMu.Unlock()
	a.degraded = degraded
}

func (a *Adapter) isDegraded() bool {
	a.degradedMu.RLock()
	defer a.degradedMu.RUnlock()
	return a.degraded
}

func (a *Adapter) recordError(code channels.ErrorCode) {
	a.metrics.RecordError("telegram", string(code))
}
