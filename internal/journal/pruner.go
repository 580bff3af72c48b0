package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruneable deletes entries older than a cutoff.
type Pruneable interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// PrunerConfig configures a Pruner. OnPrune is optional.
type PrunerConfig struct {
	// Schedule is a standard five-field cron expression or descriptor
	// such as "@daily".
	Schedule  string
	Retention time.Duration
	Timeout   time.Duration
	OnPrune   func(n int64)
	Logger    *slog.Logger
}

// Pruner enforces journal retention on a cron schedule.
type Pruner struct {
	target    Pruneable
	retention time.Duration
	timeout   time.Duration
	onPrune   func(n int64)
	cron      *cron.Cron
	now       func() time.Time
	logger    *slog.Logger
}

// NewPruner parses the schedule and registers the prune job. Nothing
// runs until Start.
func NewPruner(target Pruneable, cfg PrunerConfig) (*Pruner, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("journal retention must be positive, got %v", cfg.Retention)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pruner{
		target:    target,
		retention: cfg.Retention,
		timeout:   cfg.Timeout,
		onPrune:   cfg.OnPrune,
		cron:      cron.New(),
		now:       time.Now,
		logger:    cfg.Logger.With("component", "journal"),
	}
	if _, err := p.cron.AddFunc(cfg.Schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.Schedule, err)
	}
	return p, nil
}

// Start runs the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune until ctx is done.
func (p *Pruner) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneOnce deletes everything recorded before now minus the retention.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.target.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if p.onPrune != nil {
		p.onPrune(n)
	}
	p.logger.Info("journal pruned", "removed", n, "cutoff", cutoff)
	return n, nil
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if _, err := p.PruneOnce(ctx); err != nil {
		p.logger.Error("journal prune failed", "error", err)
	}
}
