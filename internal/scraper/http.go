package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Page is a fetched HTML response
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// HTTPClient fetches pages with browser-like headers and bounded retries
type HTTPClient struct {
	client  *retryablehttp.Client
	config  config.ScrapeConfig
	blocked *regexp.Regexp
	logger  *zap.Logger
}

// NewHTTPClient creates a fetcher for cfg
func NewHTTPClient(cfg config.ScrapeConfig, logger *zap.Logger) *HTTPClient {
	logger = logging.OrNop(logger).Named("http")

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{logger.Sugar()}
	// hand the last response back instead of a generic "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		client:  client,
		config:  cfg,
		blocked: config.ProtectionPagePattern,
		logger:  logger,
	}
}

// setRequestHeaders sets browser-like headers on the request
func (h *HTTPClient) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", h.config.UserAgentString())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Referer", "https://www.google.com/")
}

// Fetch downloads targetURL. Non-HTML bodies and protection pages are
// reported as UnsupportedPageError, other HTTP failures as HTTPError.
func (h *HTTPClient) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	h.setRequestHeaders(req.Request)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(h.config.SizeLimitBytes)
	if limit <= 0 {
		limit = dom.MaxHTMLSize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if h.LooksBlocked(body) {
		return nil, &models.UnsupportedPageError{Kind: models.PageKindBlocked, URL: finalURL, Reason: "site protection page"}
	}
	if resp.StatusCode >= 400 {
		return nil, &models.HTTPError{StatusCode: resp.StatusCode, URL: finalURL, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	contentType := resp.Header.Get("Content-Type")
	if err := checkHTML(finalURL, contentType, body); err != nil {
		return nil, err
	}
	return &Page{URL: finalURL, ContentType: contentType, Body: body}, nil
}

// checkHTML rejects bodies that are not HTML by header or by content
func checkHTML(pageURL, contentType string, body []byte) error {
	sniffed := mimetype.Detect(body)
	header := strings.ToLower(contentType)

	if sniffed.Is("application/pdf") || strings.Contains(header, "application/pdf") {
		return &models.UnsupportedPageError{Kind: models.PageKindPDF, URL: pageURL, Reason: "PDF documents are not supported"}
	}
	if strings.Contains(header, "html") || sniffed.Is("text/html") || sniffed.Is("application/xhtml+xml") {
		return nil
	}
	return &models.UnsupportedPageError{
		Kind:   models.PageKindNonHTML,
		URL:    pageURL,
		Reason: fmt.Sprintf("content type %q (detected %s)", contentType, sniffed.String()),
	}
}

// LooksBlocked reports whether body is a bot protection interstitial
func (h *HTTPClient) LooksBlocked(body []byte) bool {
	const window = 64 * 1024
	if len(body) > window {
		body = body[:window]
	}
	return h.blocked.Match(bytes.ToLower(body))
}

// GenerateAlternateURLs creates AMP and mobile variants of a URL
func GenerateAlternateURLs(originalURL string) ([]string, error) {
	u, err := url.Parse(originalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	alternates := make([]string, 0, 4)
	if !strings.HasPrefix(u.Path, "/amp/") {
		amp := *u
		amp.Path = "/amp" + u.Path
		alternates = append(alternates, amp.String())
	}
	if !strings.HasSuffix(u.Path, "/amp") {
		amp := *u
		amp.Path = strings.TrimSuffix(u.Path, "/") + "/amp"
		alternates = append(alternates, amp.String())
	}

	query := *u
	q := query.Query()
	q.Set("outputType", "amp")
	query.RawQuery = q.Encode()
	alternates = append(alternates, query.String())

	if !strings.HasPrefix(u.Hostname(), "m.") {
		mobile := *u
		mobile.Host = "m." + u.Host
		alternates = append(alternates, mobile.String())
	}
	return alternates, nil
}

var errAlternateFound = errors.New("alternate found")

// FetchWithAlternates tries the primary URL, then AMP and mobile variants in
// parallel when the primary was refused or blocked. The first success wins.
func (h *HTTPClient) FetchWithAlternates(ctx context.Context, targetURL string) (*Page, error) {
	page, primaryErr := h.Fetch(ctx, targetURL)
	if primaryErr == nil {
		return page, nil
	}
	if !worthAlternates(primaryErr) {
		return nil, primaryErr
	}

	alternates, err := GenerateAlternateURLs(targetURL)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("trying alternate URLs", zap.String("url", targetURL), zap.Error(primaryErr))

	g, gctx := errgroup.WithContext(ctx)
	found := make(chan *Page, len(alternates))
	for _, alt := range alternates {
		g.Go(func() error {
			page, err := h.Fetch(gctx, alt)
			if err != nil {
				return nil
			}
			found <- page
			// cancels the remaining fetches
			return errAlternateFound
		})
	}
	_ = g.Wait()
	close(found)

	if page, ok := <-found; ok {
		h.logger.Info("alternate URL succeeded", zap.String("url", targetURL), zap.String("alternate", page.URL))
		return page, nil
	}
	return nil, fmt.Errorf("all alternate URLs failed: %w", primaryErr)
}

func worthAlternates(err error) bool {
	var httpErr *models.HTTPError
	if errors.As(err, &httpErr) {
		return alternateStatuses[httpErr.StatusCode] || httpErr.StatusCode >= 500
	}
	var unsupported *models.UnsupportedPageError
	return errors.As(err, &unsupported) && unsupported.Kind == models.PageKindBlocked
}

// leveledLogger routes retryablehttp logs through zap; per-request chatter goes to debug
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
