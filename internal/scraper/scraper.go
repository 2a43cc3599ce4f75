package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"
	"extract-main-content/internal/spa"

	"go.uber.org/zap"
)

// Renderer produces a live document from a browser
type Renderer interface {
	Render(ctx context.Context, targetURL string) (*dom.Document, func(), error)
}

// Loaded is a document ready for extraction
type Loaded struct {
	Doc      *dom.Document
	Rendered bool
	stop     func()
}

// Close stops the live mirror of a rendered document
func (l *Loaded) Close() {
	if l.stop != nil {
		l.stop()
	}
}

// Loader fetches documents: HTTP first, browser fallback
type Loader struct {
	http     *HTTPClient
	renderer Renderer
	config   config.ScrapeConfig
	logger   *zap.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithRenderer replaces the headless Chrome renderer
func WithRenderer(r Renderer) LoaderOption {
	return func(l *Loader) { l.renderer = r }
}

// NewLoader creates a loader for cfg
func NewLoader(cfg config.ScrapeConfig, logger *zap.Logger, opts ...LoaderOption) *Loader {
	logger = logging.OrNop(logger)
	l := &Loader{
		http:   NewHTTPClient(cfg, logger),
		config: cfg,
		logger: logger.Named("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renderer == nil {
		l.renderer = NewBrowserClient(cfg, logger)
	}
	return l
}

// Load returns the document at targetURL. With render set the page goes
// straight to the browser. Otherwise the static HTML is used unless it is an
// unrendered app shell or could not be fetched, and rendering is enabled.
func (l *Loader) Load(ctx context.Context, targetURL string, render bool) (*Loaded, error) {
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", targetURL)
	}

	if render {
		return l.render(ctx, targetURL)
	}

	httpCtx, cancel := context.WithTimeout(ctx, HTTPTimeout)
	defer cancel()

	page, err := l.http.FetchWithAlternates(httpCtx, targetURL)
	if err != nil {
		if !l.config.RenderFallback || !renderMightHelp(err) {
			return nil, err
		}
		l.logger.Info("static fetch failed, rendering", zap.String("url", targetURL), zap.Error(err))
		loaded, renderErr := l.render(ctx, targetURL)
		if renderErr != nil {
			return nil, fmt.Errorf("fetch failed: %w; render failed: %w", err, renderErr)
		}
		return loaded, nil
	}

	doc, err := dom.Load(bytes.NewReader(page.Body), page.ContentType, page.URL)
	if err != nil {
		return nil, err
	}

	if l.config.RenderFallback && looksLikeAppShell(doc) {
		l.logger.Info("static page is an app shell, rendering", zap.String("url", page.URL))
		loaded, renderErr := l.render(ctx, page.URL)
		if renderErr == nil {
			return loaded, nil
		}
		l.logger.Warn("render failed, using static page", zap.String("url", page.URL), zap.Error(renderErr))
	}
	return &Loaded{Doc: doc}, nil
}

func (l *Loader) render(ctx context.Context, targetURL string) (*Loaded, error) {
	doc, stop, err := l.renderer.Render(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	return &Loaded{Doc: doc, Rendered: true, stop: stop}, nil
}

// renderMightHelp is false for content no browser can turn into HTML
func renderMightHelp(err error) bool {
	var unsupported *models.UnsupportedPageError
	if errors.As(err, &unsupported) {
		return unsupported.Kind == models.PageKindBlocked
	}
	return true
}

// looksLikeAppShell reports a framework page whose body has not been rendered
func looksLikeAppShell(doc *dom.Document) bool {
	if doc.BodyTextLength() >= appShellTextLimit {
		return false
	}
	snap, err := doc.SnapshotDocument()
	if err != nil {
		return false
	}
	return spa.DetectFrom(snap, doc.Globals()).IsSPA()
}
