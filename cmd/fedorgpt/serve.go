package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/fedorgpt/internal/anchor"
	"github.com/haasonsaas/fedorgpt/internal/channels"
	"github.com/haasonsaas/fedorgpt/internal/channels/telegram"
	"github.com/haasonsaas/fedorgpt/internal/commands"
	"github.com/haasonsaas/fedorgpt/internal/config"
	"github.com/haasonsaas/fedorgpt/internal/dispatch"
	"github.com/haasonsaas/fedorgpt/internal/history"
	"github.com/haasonsaas/fedorgpt/internal/journal"
	"github.com/haasonsaas/fedorgpt/internal/linkpreview"
	"github.com/haasonsaas/fedorgpt/internal/mixins"
	"github.com/haasonsaas/fedorgpt/internal/observability"
	"github.com/haasonsaas/fedorgpt/internal/reply"
	"github.com/haasonsaas/fedorgpt/internal/settings"
	"github.com/haasonsaas/fedorgpt/internal/storage"
	"github.com/haasonsaas/fedorgpt/internal/triggers"
	"github.com/haasonsaas/fedorgpt/internal/vision"
)

const shutdownTimeout = 30 * time.Second

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long: `Run the bot until SIGINT or SIGTERM.

The server will:
1. Load configuration from the specified file (or fedorgpt.yaml)
2. Open the sqlite database holding conversation history and the message journal
3. Load and watch the settings file
4. Connect to Telegram and start dispatching messages
5. Serve /metrics and /healthz when observability.metrics_addr is set`,
		Example: `  fedorgpt serve --config /etc/fedorgpt/fedorgpt.yaml --debug`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// runServe wires every component and blocks until shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)
	logger.Info("starting fedorgpt",
		"version", version,
		"commit", commit,
		"config", configPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tracing := cfg.Observability.Tracing
	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		Environment:    tracing.Environment,
		Endpoint:       tracing.Endpoint,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		EnableInsecure: tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	hist, err := history.New(ctx, db)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	jrnl, err := journal.New(ctx, db)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	store, err := settings.OpenFile(cfg.Storage.SettingsPath, logger)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer store.Close()
	if err := store.Watch(ctx, cfg.Storage.WatchDebounce); err != nil {
		logger.Warn("settings hot reload disabled", "error", err)
	}

	var unfurler *linkpreview.Unfurler
	if !cfg.LinkPreview.Disabled {
		unfurler = linkpreview.New(linkpreview.Config{
			Timeout:       cfg.LinkPreview.Timeout,
			MaxPageBytes:  cfg.LinkPreview.MaxPageBytes,
			MaxImageBytes: cfg.LinkPreview.MaxImageBytes,
			UserAgent:     cfg.LinkPreview.UserAgent,
			Logger:        logger,
		})
	}

	oaConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		oaConfig.BaseURL = cfg.OpenAI.BaseURL
	}
	client := openai.NewClientWithConfig(oaConfig)

	captioner := vision.NewCaptioner(vision.Config{
		Client:    client,
		Model:     cfg.OpenAI.VisionModel,
		MaxTokens: cfg.OpenAI.VisionMaxTokens,
		Timeout:   cfg.OpenAI.VisionTimeout,
		Logger:    logger,
	})
	replies, err := reply.NewEngine(reply.Config{
		Client:       client,
		History:      hist,
		Model:        cfg.OpenAI.Model,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		HistoryLimit: cfg.OpenAI.HistoryLimit,
		Timeout:      cfg.OpenAI.Timeout,
		MaxAttempts:  cfg.OpenAI.MaxAttempts,
		Observer: func(model string, d time.Duration, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.RecordReply(model, status, d.Seconds())
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tg := cfg.Telegram
	adapterOpts := telegram.Options{Journal: jrnl, Metrics: metrics}
	if unfurler != nil {
		adapterOpts.Images = unfurler
	}
	adapter, err := telegram.NewAdapter(telegram.Config{
		Token:                tg.BotToken,
		MaxReconnectAttempts: tg.MaxReconnectAttempts,
		ReconnectDelay:       tg.ReconnectDelay,
		RateLimit:            tg.RateLimit,
		RateBurst:            tg.RateBurst,
		ChatRateLimit:        tg.ChatRateLimit,
		ChatRateBurst:        tg.ChatRateBurst,
		BufferSize:           tg.BufferSize,
		MaxFileBytes:         tg.MaxFileBytes,
		EntityCacheTTL:       tg.EntityCacheTTL,
		Logger:               logger,
	}, adapterOpts)
	if err != nil {
		return err
	}

	mixinCfg := mixins.Config{
		Entities:    adapter,
		Media:       adapter,
		Captioner:   captioner,
		Logger:      logger,
		CallTimeout: cfg.Dispatch.ExternalTimeout,
		OnCaption:   func(status vision.Status) { metrics.RecordCaption(string(status)) },
	}
	if unfurler != nil {
		mixinCfg.Unfurler = unfurler
	}

	cmds := commands.NewRegistry(logger)
	if err := commands.NewAdmin(store, adapter, logger).Register(cmds); err != nil {
		return err
	}
	if err := commands.RegisterUptime(cmds, time.Now(), time.Now); err != nil {
		return err
	}

	engine, err := dispatch.NewEngine(dispatch.Config{
		OwnerID:          tg.OwnerID,
		InvocationPrefix: cfg.Dispatch.InvocationPrefix,
		ReplyMarker:      cfg.Dispatch.ReplyMarker,
		ExternalTimeout:  cfg.Dispatch.ExternalTimeout,
		TypingInterval:   cfg.Dispatch.TypingInterval,
		Location:         cfg.Location(),
	}, dispatch.Dependencies{
		Transport: adapter,
		Triggers:  triggers.NewResolver(store),
		Mixins:    mixins.NewBuilder(mixinCfg),
		Anchors:   anchor.NewResolver(adapter, hist, cfg.Dispatch.AnchorMaxDepth, logger),
		Commands:  commands.NewInterpreter(cmds, nil, logger),
		Replies:   replies,
		Metrics:   metrics,
		Tracer:    tracer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	runner := dispatch.NewRunner(engine, cfg.Dispatch.MaxConcurrent, metrics, logger)

	pruner, err := journal.NewPruner(jrnl, journal.PrunerConfig{
		Schedule:  cfg.Storage.PruneSchedule,
		Retention: cfg.Storage.JournalRetention,
		OnPrune:   metrics.RecordJournalPruned,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	pruner.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The event channel closes when polling stops; shut down with it.
		defer cancel()
		return runner.Run(gctx, adapter.Events())
	})
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		server := newOpsServer(addr, registry, adapter)
		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	logger.Info("fedorgpt started")

	<-gctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := adapter.Stop(shutdownCtx); err != nil {
		logger.Warn("telegram adapter stop failed", "error", err)
	}
	if err := pruner.Stop(shutdownCtx); err != nil {
		logger.Warn("journal pruner stop failed", "error", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fedorgpt stopped gracefully")
	return nil
}

// newOpsServer serves prometheus metrics and the adapter health.
func newOpsServer(addr string, registry *prometheus.Registry, adapter channels.Adapter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	mux.Handle("/healthz", channels.HealthHandler(adapter, 5*time.Second))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
