// Package linkpreview fetches page metadata for links the transport only
// reports as bare URLs.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Config configures an Unfurler.
type Config struct {
	Timeout       time.Duration
	MaxPageBytes  int64
	MaxImageBytes int64
	UserAgent     string

	// AllowPrivate disables the public-address guard. Tests only.
	AllowPrivate bool

	Logger *slog.Logger
}

// Unfurler fetches pages and images over HTTP(S).
type Unfurler struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New applies defaults and builds an Unfurler.
func New(config Config) *Unfurler {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxPageBytes <= 0 {
		config.MaxPageBytes = 1 << 20
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = 10 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; fedorgpt-linkpreview/1.0)"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.AllowPrivate {
		transport.DialContext = guardedDialContext(config.Timeout)
	}
	u := &Unfurler{
		config: config,
		logger: config.Logger.With("component", "linkpreview"),
	}
	u.client = &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return u.check(req.URL.String())
		},
	}
	return u
}

func (u *Unfurler) check(raw string) error {
	if u.config.AllowPrivate {
		return nil
	}
	_, err := CheckURL(raw)
	return err
}

// Unfurl fetches rawURL and returns its preview metadata.
func (u *Unfurler) Unfurl(ctx context.Context, rawURL string) (*models.LinkPreview, error) {
	if err := u.check(rawURL); err != nil {
		return nil, err
	}
	resp, err := u.get(ctx, rawURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return &models.LinkPreview{URL: rawURL}, nil
	}

	meta, err := ParseHTML(io.LimitReader(resp.Body, u.config.MaxPageBytes), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	preview := &models.LinkPreview{
		URL:         rawURL,
		Title:       meta.Title,
		Description: meta.Description,
	}
	if meta.Image != "" {
		preview.Photo = &models.MediaRef{URL: meta.Image}
	}
	u.logger.DebugContext(ctx, "unfurled link", "url", rawURL, "has_title", meta.Title != "", "has_image", meta.Image != "")
	return preview, nil
}

// FetchImage downloads an image by URL, bounded by MaxImageBytes.
func (u *Unfurler) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := u.check(rawURL); err != nil {
		return nil, "", err
	}
	resp, err := u.get(ctx, rawURL, "image/*")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, u.config.MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > u.config.MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", u.config.MaxImageBytes)
	}
	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func (u *Unfurler) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", u.config.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}
