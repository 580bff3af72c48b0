package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ChatLimiter combines a global bucket with one bucket per chat, matching
// how chat networks throttle bots both overall and per conversation.
type ChatLimiter struct {
	global    *rate.Limiter
	chatRate  rate.Limit
	chatBurst int
	idleAfter time.Duration

	mu    sync.Mutex
	chats map[int64]*chatBucket
	now   func() time.Time
}

type chatBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewChatLimiter creates a limiter allowing globalRate operations per
// second overall and chatRate per chat. Bursts below one are raised to one.
func NewChatLimiter(globalRate float64, globalBurst int, chatRate float64, chatBurst int) *ChatLimiter {
	return &ChatLimiter{
		global:    rate.NewLimiter(rate.Limit(globalRate), max(globalBurst, 1)),
		chatRate:  rate.Limit(chatRate),
		chatBurst: max(chatBurst, 1),
		idleAfter: 10 * time.Minute,
		chats:     make(map[int64]*chatBucket),
		now:       time.Now,
	}
}

// Wait blocks until both the chat bucket and the global bucket grant a
// token. It fails early when ctx would expire before a token is available.
func (c *ChatLimiter) Wait(ctx context.Context, chatID int64) error {
	if err := c.bucket(chatID).Wait(ctx); err != nil {
		return err
	}
	return c.global.Wait(ctx)
}

// Allow consumes a token from both buckets when both have one.
func (c *ChatLimiter) Allow(chatID int64) bool {
	now := c.now()
	chat := c.bucket(chatID).ReserveN(now, 1)
	if !chat.OK() || chat.DelayFrom(now) > 0 {
		chat.CancelAt(now)
		return false
	}
	if !c.global.AllowN(now, 1) {
		chat.CancelAt(now)
		return false
	}
	return true
}

func (c *ChatLimiter) bucket(chatID int64) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, b := range c.chats {
		if id != chatID && now.Sub(b.lastUsed) > c.idleAfter {
			delete(c.chats, id)
		}
	}
	b, ok := c.chats[chatID]
	if !ok {
		b = &chatBucket{limiter: rate.NewLimiter(c.chatRate, c.chatBurst)}
		c.chats[chatID] = b
	}
	b.lastUsed = now
	return b.limiter
}

// Len returns the number of chats with a live bucket.
func (c *ChatLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats)
}
