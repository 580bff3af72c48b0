// Package mixins assembles the structured context attached to a reply
// request: image descriptions, forward origins, link embeds and quotes.
package mixins

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/fedorgpt/internal/vision"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Payload keys. Each builder owns exactly one.
const (
	KeyImageDesc = "imageDesc"
	KeyForward   = "forward"
	KeyEmbed     = "embed"
	KeyQuote     = "quote"
)

// Kind selects a fragment builder.
type Kind int

const (
	Image Kind = iota
	Forward
	Embed
	Quote
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Forward:
		return "forward"
	case Embed:
		return "embed"
	case Quote:
		return "quote"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Mixin is the merged set of fragments keyed by payload key.
type Mixin map[string]any

// EntityResolver looks up users and chats by id or @username.
type EntityResolver interface {
	GetEntity(ctx context.Context, ref string) (models.Entity, error)
}

// MediaDownloader fetches attachment bytes.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, ref models.MediaRef) ([]byte, string, error)
}

// Captioner describes images.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) vision.Result
}

// Unfurler fills in preview metadata for bare URLs.
type Unfurler interface {
	Unfurl(ctx context.Context, rawURL string) (*models.LinkPreview, error)
}

// Config wires a Builder. Unfurler and OnCaption are optional.
type Config struct {
	Entities  EntityResolver
	Media     MediaDownloader
	Captioner Captioner
	Unfurler  Unfurler
	Logger    *slog.Logger

	// CallTimeout bounds each download, entity lookup and unfurl.
	// Captioning keeps its own deadline. Defaults to 30s.
	CallTimeout time.Duration

	// OnCaption observes every caption outcome.
	OnCaption func(status vision.Status)
}

// Builder runs fragment builders concurrently and merges their output.
// Builder failures degrade to a missing or empty fragment; Build never
// fails.
type Builder struct {
	entities  EntityResolver
	media     MediaDownloader
	captioner Captioner
	unfurler  Unfurler
	onCaption func(status vision.Status)
	timeout   time.Duration
	logger    *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Builder{
		entities:  cfg.Entities,
		media:     cfg.Media,
		captioner: cfg.Captioner,
		unfurler:  cfg.Unfurler,
		onCaption: cfg.OnCaption,
		timeout:   cfg.CallTimeout,
		logger:    cfg.Logger.With("component", "mixins"),
	}
}

// Build runs the requested builders for msg. Builders whose precondition
// does not hold contribute nothing.
func (b *Builder) Build(ctx context.Context, msg *models.Message, kinds ...Kind) Mixin {
	out := make(Mixin, len(kinds))
	if msg == nil || len(kinds) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	seen := make(map[Kind]bool, len(kinds))
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true

		kind := kind
		g.Go(func() error {
			key, value, ok := b.build(ctx, msg, kind)
			if !ok {
				return nil
			}
			mu.Lock()
			out[key] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (b *Builder) build(ctx context.Context, msg *models.Message, kind Kind) (string, any, bool) {
	switch kind {
	case Image:
		v, ok := b.image(ctx, msg)
		return KeyImageDesc, v, ok
	case Forward:
		v, ok := b.forward(ctx, msg)
		return KeyForward, v, ok
	case Embed:
		v, ok := b.embed(ctx, msg)
		return KeyEmbed, v, ok
	case Quote:
		v, ok := b.quote(ctx, msg)
		return KeyQuote, v, ok
	default:
		b.logger.WarnContext(ctx, "unknown mixin kind", "kind", kind.String())
		return "", nil, false
	}
}
