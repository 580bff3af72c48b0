package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/fedorgpt/internal/observability"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// DefaultMaxConcurrent bounds concurrently handled events.
const DefaultMaxConcurrent = 16

// Handler handles one event.
type Handler interface {
	Handle(ctx context.Context, msg *models.Message) (Outcome, error)
}

// Runner feeds events to a Handler, one goroutine per event, bounded by
// a concurrency limit. A panicking handler is recovered and logged.
type Runner struct {
	handler       Handler
	maxConcurrent int
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewRunner creates a runner. maxConcurrent <= 0 uses DefaultMaxConcurrent.
func NewRunner(handler Handler, maxConcurrent int, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		handler:       handler,
		maxConcurrent: maxConcurrent,
		metrics:       metrics,
		logger:        logger.With("component", "runner"),
	}
}

// Run consumes events until the channel closes or ctx is done, then waits
// for in-flight events. It returns ctx.Err() when stopped by ctx.
func (r *Runner) Run(ctx context.Context, events <-chan *models.Message) error {
	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return g.Wait()
			}
			if msg == nil {
				continue
			}
			r.metrics.EventReceived(source(msg))
			g.Go(func() error {
				r.handle(ctx, msg)
				return nil
			})
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg *models.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordError("dispatch", "panic")
			r.logger.Error("event handler panicked",
				"chat_id", msg.ChatID,
				"message_id", msg.ID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()

	out, err := r.handler.Handle(ctx, msg)
	if err != nil {
		r.logger.Warn("event failed",
			"event_id", out.EventID,
			"chat_id", msg.ChatID,
			"message_id", msg.ID,
			"path", string(out.Path),
			"error", err)
	}
}

func source(msg *models.Message) string {
	if msg.FromSelf {
		return "self"
	}
	return "message"
}
