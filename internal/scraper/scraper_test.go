package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var articleHTML = `<html><head><title>Story</title></head><body><article><p>` +
	strings.Repeat("A long paragraph of static article text. ", 20) +
	`</p></article></body></html>`

const appShellHTML = `<html><body><div id="root" data-reactroot></div><script src="/bundle.js"></script></body></html>`

const blockedHTML = `<html><head><title>Attention Required! | Cloudflare</title></head>
<body><h1>Sorry, you have been blocked</h1><p>Why have I been blocked?</p></body></html>`

func testConfig() config.ScrapeConfig {
	cfg := config.Default().Scrape
	cfg.MaxRetries = 0
	return cfg
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

type fakeRenderer struct {
	calls  atomic.Int32
	markup string
	err    error
}

func (f *fakeRenderer) Render(_ context.Context, targetURL string) (*dom.Document, func(), error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	doc, err := dom.LoadString(f.markup, targetURL)
	return doc, func() {}, err
}

func TestFetchHTML(t *testing.T) {
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		serveHTML(articleHTML)(w, r)
	}))
	defer srv.Close()

	page, err := NewHTTPClient(testConfig(), nil).Fetch(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/story", page.URL)
	assert.Contains(t, page.ContentType, "text/html")
	assert.Contains(t, string(page.Body), "static article text")
	assert.Contains(t, userAgent, "Chrome/")
}

func TestFetchRejectsUnsupportedContent(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		kind        string
	}{
		{"pdf by header", "application/pdf", "%PDF-1.7\n1 0 obj", models.PageKindPDF},
		{"pdf by content", "application/octet-stream", "%PDF-1.4\n%âãÏÓ", models.PageKindPDF},
		{"json", "application/json", `{"title": "not a page"}`, models.PageKindNonHTML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(testConfig(), nil).Fetch(context.Background(), srv.URL)
			var unsupported *models.UnsupportedPageError
			require.True(t, errors.As(err, &unsupported), "got %v", err)
			assert.Equal(t, tt.kind, unsupported.Kind)
		})
	}
}

func TestFetchDetectsProtectionPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(blockedHTML))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(testConfig(), nil).Fetch(context.Background(), srv.URL)
	var unsupported *models.UnsupportedPageError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, models.PageKindBlocked, unsupported.Kind)
}

func TestFetchReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPClient(testConfig(), nil).Fetch(context.Background(), srv.URL)
	var httpErr *models.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		serveHTML(articleHTML)(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 1
	page, err := NewHTTPClient(cfg, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, page.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGenerateAlternateURLs(t *testing.T) {
	alternates, err := GenerateAlternateURLs("https://news.example.com/story")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://news.example.com/amp/story",
		"https://news.example.com/story/amp",
		"https://news.example.com/story?outputType=amp",
		"https://m.news.example.com/story",
	}, alternates)

	alternates, err = GenerateAlternateURLs("https://m.example.com/amp/story/amp")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://m.example.com/amp/story/amp?outputType=amp"}, alternates)
}

func TestFetchWithAlternatesFallsBackToAMP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/amp/") {
			serveHTML(articleHTML)(w, r)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	page, err := NewHTTPClient(testConfig(), nil).FetchWithAlternates(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/amp/story", page.URL)
}

func TestFetchWithAlternatesSkipsPermanentErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(testConfig(), nil).FetchWithAlternates(context.Background(), srv.URL+"/story")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoaderUsesStaticPage(t *testing.T) {
	srv := httptest.NewServer(serveHTML(articleHTML))
	defer srv.Close()

	renderer := &fakeRenderer{}
	loaded, err := NewLoader(testConfig(), nil, WithRenderer(renderer)).Load(context.Background(), srv.URL, false)
	require.NoError(t, err)
	defer loaded.Close()

	assert.False(t, loaded.Rendered)
	assert.Greater(t, loaded.Doc.BodyTextLength(), 500)
	assert.Zero(t, renderer.calls.Load())
}

func TestLoaderRendersAppShell(t *testing.T) {
	srv := httptest.NewServer(serveHTML(appShellHTML))
	defer srv.Close()

	renderer := &fakeRenderer{markup: articleHTML}
	loaded, err := NewLoader(testConfig(), nil, WithRenderer(renderer)).Load(context.Background(), srv.URL, false)
	require.NoError(t, err)
	defer loaded.Close()

	assert.True(t, loaded.Rendered)
	assert.Equal(t, int32(1), renderer.calls.Load())
	assert.Greater(t, loaded.Doc.BodyTextLength(), 500)
}

func TestLoaderKeepsShellWhenRenderFails(t *testing.T) {
	srv := httptest.NewServer(serveHTML(appShellHTML))
	defer srv.Close()

	renderer := &fakeRenderer{err: errors.New("chrome not installed")}
	loaded, err := NewLoader(testConfig(), nil, WithRenderer(renderer)).Load(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.False(t, loaded.Rendered)
}

func TestLoaderRenderRequested(t *testing.T) {
	renderer := &fakeRenderer{markup: articleHTML}
	loaded, err := NewLoader(testConfig(), nil, WithRenderer(renderer)).Load(context.Background(), "https://app.example.com/", true)
	require.NoError(t, err)
	assert.True(t, loaded.Rendered)
	assert.Equal(t, "https://app.example.com/", loaded.Doc.RawURL())
}

func TestLoaderDoesNotRenderPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7\n"))
	}))
	defer srv.Close()

	renderer := &fakeRenderer{markup: articleHTML}
	_, err := NewLoader(testConfig(), nil, WithRenderer(renderer)).Load(context.Background(), srv.URL, false)
	var unsupported *models.UnsupportedPageError
	require.True(t, errors.As(err, &unsupported))
	assert.Zero(t, renderer.calls.Load())
}

func TestLoaderRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/file", "not a url"} {
		_, err := NewLoader(testConfig(), nil, WithRenderer(&fakeRenderer{})).Load(context.Background(), raw, false)
		assert.Error(t, err, raw)
	}
}

func TestRequestBlockingScriptListsDomains(t *testing.T) {
	script := RequestBlockingScript()
	for _, d := range BlockedDomains {
		assert.Contains(t, script, `"`+d+`"`)
	}
}
