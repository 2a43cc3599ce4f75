package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserClient renders pages in headless Chrome
type BrowserClient struct {
	config  config.ScrapeConfig
	options BrowserOptions
	blocked *regexp.Regexp
	logger  *zap.Logger
}

// NewBrowserClient creates a renderer for cfg
func NewBrowserClient(cfg config.ScrapeConfig, logger *zap.Logger) *BrowserClient {
	opts := DefaultBrowserOptions()
	opts.UserAgent = cfg.UserAgentString()
	return &BrowserClient{
		config:  cfg,
		options: opts,
		blocked: config.ProtectionPagePattern,
		logger:  logging.OrNop(logger).Named("browser"),
	}
}

type pageSnapshot struct {
	HTML  string `json:"html"`
	State string `json:"state"`
}

// Render opens targetURL and returns a document that mirrors the live page.
// The mirror keeps polling the rendered DOM until stop is called, ctx ends or
// the document is unloaded, so hydration shows up as document mutations.
func (b *BrowserClient) Render(ctx context.Context, targetURL string) (*dom.Document, func(), error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, BuildChromeOptions(b.options)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.logger.Sugar().Debugf))

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancelBrowser()
			cancelAlloc()
		})
	}

	// the first Run starts the browser; its context must outlive the navigation timeout
	if err := chromedp.Run(browserCtx); err != nil {
		stop()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, BrowserTimeout)
	defer cancelNav()

	var (
		finalURL string
		snap     pageSnapshot
		globals  map[string]string
	)
	err := chromedp.Run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(RequestBlockingScript()).Do(ctx)
			return err
		}),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
		chromedp.Location(&finalURL),
		chromedp.Evaluate(snapshotScript, &snap),
		chromedp.Evaluate(globalsScript, &globals),
	)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("navigation failed: %w", err)
	}

	if b.LooksBlocked(snap.HTML) {
		stop()
		return nil, nil, &models.UnsupportedPageError{Kind: models.PageKindBlocked, URL: finalURL, Reason: "site protection page"}
	}

	doc, err := dom.LoadString(snap.HTML, finalURL)
	if err != nil {
		stop()
		return nil, nil, err
	}
	doc.SetReadyState(dom.ReadyState(snap.State))
	doc.SetGlobals(globals)

	b.logger.Debug("page rendered",
		zap.String("url", finalURL),
		zap.String("ready_state", snap.State),
		zap.Int("globals", len(globals)))

	cancelUnload := doc.OnUnload(stop)
	go b.mirror(browserCtx, doc, snap)

	return doc, func() {
		cancelUnload()
		stop()
	}, nil
}

// mirror copies the rendered DOM into doc whenever it changes
func (b *BrowserClient) mirror(ctx context.Context, doc *dom.Document, last pageSnapshot) {
	interval := b.config.MirrorInterval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if doc.Detached() {
			return
		}

		var snap pageSnapshot
		if err := chromedp.Run(ctx, chromedp.Evaluate(snapshotScript, &snap)); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Debug("mirror read failed", zap.Error(err))
			continue
		}
		if snap.HTML != last.HTML {
			if err := doc.Replace(snap.HTML); err != nil {
				b.logger.Debug("mirror update failed", zap.Error(err))
				continue
			}
		}
		if snap.State != last.State {
			doc.SetReadyState(dom.ReadyState(snap.State))
		}
		last = snap
	}
}

// LooksBlocked checks if rendered HTML is a bot protection interstitial
func (b *BrowserClient) LooksBlocked(html string) bool {
	return b.blocked.MatchString(strings.ToLower(html))
}
