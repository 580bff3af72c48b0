// Package typing keeps a chat's typing indicator alive while a reply is
// being prepared.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval refreshes below Telegram's five second expiry.
const DefaultInterval = 4 * time.Second

// DefaultTTL stops a forgotten indicator.
const DefaultTTL = 2 * time.Minute

// SendFunc shows (on=true) or clears (on=false) the typing indicator.
type SendFunc func(ctx context.Context, on bool) error

// Config configures a Controller.
type Config struct {
	Interval time.Duration
	TTL      time.Duration
	Logger   *slog.Logger
}

// Controller refreshes a typing indicator until stopped. After Stop the
// controller is sealed: it cannot be restarted and late refreshes are
// dropped.
type Controller struct {
	send     SendFunc
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	sealed  bool
	base    context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewController creates a controller that calls send.
func NewController(send SendFunc, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		send:     send,
		interval: cfg.Interval,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
	}
}

// Start sends the indicator immediately and keeps refreshing it until
// Stop, ctx cancellation or the TTL. Calling Start twice is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.sealed {
		c.mu.Unlock()
		return
	}
	c.started = true

	loopCtx, cancel := context.WithTimeout(ctx, c.ttl)
	c.base = context.WithoutCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	// Stop waits on done, so the clear always follows this first send.
	c.refresh(loopCtx)
	go c.loop(loopCtx, done)
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Controller) refresh(ctx context.Context) {
	if err := c.send(ctx, true); err != nil && ctx.Err() == nil {
		c.logger.DebugContext(ctx, "typing refresh failed", "error", err)
	}
}

// Stop ends the refresh loop and clears the indicator. It is safe to call
// more than once and before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return
	}
	c.sealed = true
	started := c.started
	base, cancel, done := c.base, c.cancel, c.done
	c.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-done

	ctx, release := context.WithTimeout(base, 5*time.Second)
	defer release()
	if err := c.send(ctx, false); err != nil {
		c.logger.DebugContext(ctx, "typing clear failed", "error", err)
	}
}

// Keep starts a controller and returns its Stop, for use with defer.
func Keep(ctx context.Context, send SendFunc, cfg Config) (stop func()) {
	c := NewController(send, cfg)
	c.Start(ctx)
	return c.Stop
}
