package linkpreview

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

const articleHTML = `<!doctype html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Go 1.24 is released">
<meta property="og:description" content="Generic type aliases and more.">
<meta property="og:image" content="/img/cover.png">
<meta name="description" content="ignored when og present">
</head><body><p>hello</p></body></html>`

func TestParseHTML_Fallbacks(t *testing.T) {
	page := `<html><head><title> Plain </title><meta name="description" content="Just a page"></head></html>`
	meta, err := ParseHTML(strings.NewReader(page), nil)
	if err != nil {
		t.Fatalf("ParseHTML() error = %v", err)
	}
	if meta.Title != "Plain" || meta.Description != "Just a page" || meta.Image != "" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestUnfurler_Unfurl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	u := New(Config{AllowPrivate: true})
	preview, err := u.Unfurl(context.Background(), server.URL+"/post")
	if err != nil {
		t.Fatalf("Unfurl() error = %v", err)
	}
	if preview.Title != "Go 1.24 is released" {
		t.Errorf("Title = %q", preview.Title)
	}
	if preview.Description != "Generic type aliases and more." {
		t.Errorf("Description = %q", preview.Description)
	}
	if preview.Photo == nil || preview.Photo.URL != server.URL+"/img/cover.png" {
		t.Errorf("Photo = %+v", preview.Photo)
	}
}

func TestUnfurler_NonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	u := New(Config{AllowPrivate: true})
	preview, err := u.Unfurl(context.Background(), server.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("Unfurl() error = %v", err)
	}
	if preview.Title != "" || preview.URL != server.URL+"/doc.pdf" {
		t.Errorf("preview = %+v", preview)
	}
}

func TestUnfurler_BlocksPrivateByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded unfurler reached a loopback server")
	}))
	defer server.Close()

	u := New(Config{})
	_, err := u.Unfurl(context.Background(), server.URL)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
}

func TestUnfurler_FetchImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer server.Close()

	u := New(Config{AllowPrivate: true})
	data, mimeType, err := u.FetchImage(context.Background(), server.URL+"/a.png")
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(data) != string(png) || mimeType != "image/png" {
		t.Errorf("got %d bytes of %q", len(data), mimeType)
	}

	small := New(Config{AllowPrivate: true, MaxImageBytes: 4})
	if _, _, err := small.FetchImage(context.Background(), server.URL+"/a.png"); err == nil {
		t.Error("expected size limit error")
	}
}

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://example.com/a", false},
		{"http://93.184.216.34/", false},
		{"ftp://example.com/", true},
		{"http://localhost:8080/", true},
		{"http://printer.local/", true},
		{"http://127.0.0.1/", true},
		{"http://10.1.2.3/", true},
		{"http://100.64.0.1/", true},
		{"http://[::1]/", true},
		{"http://169.254.169.254/latest/meta-data", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := CheckURL(tt.url)
			if tt.blocked != errors.Is(err, ErrBlocked) {
				t.Errorf("CheckURL(%q) = %v, blocked want %v", tt.url, err, tt.blocked)
			}
		})
	}
}

func TestIsPublicAddr(t *testing.T) {
	if IsPublicAddr(netip.MustParseAddr("::ffff:192.168.1.1")) {
		t.Error("mapped private address reported public")
	}
	if !IsPublicAddr(netip.MustParseAddr("1.1.1.1")) {
		t.Error("1.1.1.1 reported private")
	}
}
