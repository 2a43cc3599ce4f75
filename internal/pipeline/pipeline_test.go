package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"extract-main-content/internal/analytics"
	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/models"
	"extract-main-content/internal/monitoring"
	"extract-main-content/internal/spa"
	"extract-main-content/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Recorder = (*monitoring.Metrics)(nil)
	_ History  = (*store.Store)(nil)
)

var articleParagraphs = []string{
	"Garbage collection in Go is concurrent and non-generational. The collector runs alongside application goroutines and only needs short stop-the-world pauses to enable and disable the write barrier, which keeps latency low for servers.",
	"The pacer decides when to start a new cycle. It watches the live heap after each collection and targets a heap size controlled by the GOGC setting, so doubling GOGC roughly halves collection frequency at the cost of more memory.",
	"Since Go 1.19 a soft memory limit can be configured as well. When the heap approaches the limit the collector runs more often, which protects containers from out-of-memory kills without permanently raising CPU usage.",
	"Profiling tools such as the execution tracer show every phase of a cycle. Reading those traces is the fastest way to learn whether an application is allocation bound and which call sites deserve a closer look first.",
}

func articleBody() string {
	var body strings.Builder
	body.WriteString("<h1>Understanding Garbage Collection</h1>\n")
	for _, p := range articleParagraphs {
		fmt.Fprintf(&body, "<p>%s</p>\n", p)
	}
	return body.String()
}

func articlePage() string {
	return `<html><head><title>Understanding Garbage Collection</title></head><body>
<nav class="menu"><a href="/">Home</a> <a href="/about">About</a> <a href="/contact">Contact</a></nav>
<article>` + articleBody() + `</article>
<footer>Copyright Example Media</footer>
</body></html>`
}

const shortPage = `<html><body><p>A short notice about maintenance tonight. Everything should be back to normal tomorrow morning.</p></body></html>`

const githubReadmePage = `<html><head><title>GitHub - acme/widget: dashboards</title></head><body>
<header><nav>Pull requests Issues Marketplace Explore</nav></header>
<strong itemprop="name"><a href="/acme/widget">widget</a></strong>
<div id="readme"><article class="markdown-body">
  <h1><a class="anchor" href="#widget">#</a>Widget Dashboard</h1>
  <p>%s</p>
  <pre><code class="language-sh">go install acme.dev/widget@latest</code></pre>
</article></div>
<footer>© GitHub</footer></body></html>`

const reactShell = `<html><body><div id="root" data-reactroot></div></body></html>`

func load(t *testing.T, markup, pageURL string) *dom.Document {
	t.Helper()
	doc, err := dom.LoadString(markup, pageURL)
	require.NoError(t, err)
	return doc
}

func fastSPA() *spa.Detector {
	return spa.NewDetector(nil, spa.WithStrategy(spa.FrameworkReact, spa.WaitStrategy{
		InitialWait:   20 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
		StableTime:    40 * time.Millisecond,
		MaxWait:       2 * time.Second,
	}))
}

func TestExtractsStaticArticle(t *testing.T) {
	p := New(nil)
	doc := load(t, articlePage(), "https://example.com/posts/gc")

	result := p.Extract(context.Background(), doc, "", models.DefaultPipelineOptions())
	require.True(t, result.Success, result.Error)
	assert.Contains(t, []models.Method{models.MethodReadability, models.MethodHeuristic}, result.Method)
	assert.GreaterOrEqual(t, result.TextLength(), models.MinContentLength)
	assert.Equal(t, "Understanding Garbage Collection", result.Content.Title)
	assert.NotContains(t, result.Content.Text, "Copyright Example Media")
	assert.Nil(t, result.Framework)
	assert.False(t, result.RequiresManualSelection)

	assert.Len(t, result.RequestID, 26)
	assert.Equal(t, result.Method, result.Metrics.Method)
	assert.GreaterOrEqual(t, result.Metrics.Attempts, 1)
	assert.Positive(t, result.Metrics.ExtractionTime)
	assert.Contains(t, result.Metadata, "quality")
	assert.Positive(t, result.Metadata["wordCount"])
	assert.Empty(t, doc.Owner())
}

func TestShortPageRequiresManualSelection(t *testing.T) {
	p := New(nil)
	doc := load(t, shortPage, "https://example.com/notice")

	result := p.Extract(context.Background(), doc, "", models.DefaultPipelineOptions())
	assert.False(t, result.Success)
	assert.True(t, result.RequiresManualSelection)
	assert.NotEmpty(t, result.Suggestion)
	assert.Contains(t, result.Error, "800")
	assert.True(t, errors.Is(result.Err, models.ErrManualSelectionRequired))

	var minimum *models.MinimumContentError
	assert.True(t, errors.As(result.Err, &minimum))
}

func TestGitHubReadmeUsesSiteExtractor(t *testing.T) {
	paragraph := strings.Repeat("Widget renders dashboards from plain configuration files. ", 16)
	doc := load(t, strings.Replace(githubReadmePage, "%s", paragraph, 1), "https://github.com/acme/widget")

	result := New(nil).Extract(context.Background(), doc, "", models.DefaultPipelineOptions())
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.MethodSiteSpecific, result.Method)
	assert.Equal(t, "Widget Dashboard", result.Content.Title)
	assert.Equal(t, "github", result.Metadata["extractor"])
	assert.NotContains(t, result.Content.Text, "Marketplace")
}

func TestSkipSiteSpecific(t *testing.T) {
	paragraph := strings.Repeat("Widget renders dashboards from plain configuration files. ", 16)
	doc := load(t, strings.Replace(githubReadmePage, "%s", paragraph, 1), "https://github.com/acme/widget")

	opts := models.DefaultPipelineOptions()
	opts.SkipSiteSpecific = true
	result := New(nil).Extract(context.Background(), doc, "", opts)
	require.True(t, result.Success, result.Error)
	assert.NotEqual(t, models.MethodSiteSpecific, result.Method)
	assert.Zero(t, result.Metrics.Breakdown.SiteDetection)
}

func TestReactSPAPopulatesAsynchronously(t *testing.T) {
	doc := load(t, reactShell, "https://app.example.com/posts/gc")
	doc.SetReadyState(dom.StateLoading)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = doc.SetInnerHTML("#root", "<article>"+articleBody()+"</article>")
		doc.SetReadyState(dom.StateComplete)
	}()

	result := New(nil, WithDetector(fastSPA())).Extract(context.Background(), doc, "", models.DefaultPipelineOptions())
	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.Framework)
	assert.Equal(t, spa.FrameworkReact, result.Framework.Name)
	assert.GreaterOrEqual(t, result.TextLength(), models.MinContentLength)
	assert.GreaterOrEqual(t, result.Metrics.Breakdown.SPADetection, 100*time.Millisecond)
}

func TestSPATimeoutIsTerminal(t *testing.T) {
	doc := load(t, reactShell, "https://app.example.com/")
	doc.SetReadyState(dom.StateLoading)

	a := analytics.New()
	opts := models.DefaultPipelineOptions()
	opts.SPATimeout = 200 * time.Millisecond

	start := time.Now()
	result := New(nil, WithDetector(fastSPA()), WithAnalytics(a)).Extract(context.Background(), doc, "", opts)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, result.Success)
	assert.False(t, result.RequiresManualSelection)
	assert.Equal(t, SPAContentTimeout, result.Error)
	assert.Equal(t, SuggestionSPA, result.Suggestion)
	require.NotNil(t, result.Framework)
	assert.Equal(t, spa.FrameworkReact, result.Framework.Name)

	var timeout *models.TimeoutError
	require.True(t, errors.As(result.Err, &timeout))
	assert.Equal(t, models.OperationSPAContent, timeout.Operation)

	snap := a.Snapshot()
	require.Len(t, snap.FailurePatterns, 1)
	assert.Equal(t, analytics.PatternSPA, snap.FailurePatterns[0].Pattern)
}

func TestScriptProbeFromConfig(t *testing.T) {
	doc := load(t, `<html><body><div id="root"></div><script>window.React = {version: "18.2.0"}; window.ReactDOM = {};</script></body></html>`, "https://app.example.com/")

	cfg := config.Default()
	plain := New(nil, FromConfig(cfg))
	det, err := plain.detector.Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEqual(t, spa.FrameworkReact, det.Framework)

	cfg.Extraction.ScriptProbe = true
	probed := New(nil, FromConfig(cfg))
	det, err = probed.detector.Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, spa.FrameworkReact, det.Framework)
	assert.Equal(t, "18.2.0", det.Version)
}

func TestOverallTimeoutAbandonsStage(t *testing.T) {
	doc := load(t, reactShell, "https://app.example.com/")
	doc.SetReadyState(dom.StateLoading)

	opts := models.DefaultPipelineOptions()
	opts.Timeout = 150 * time.Millisecond
	opts.SPATimeout = 5 * time.Second

	start := time.Now()
	result := New(nil, WithDetector(fastSPA())).Extract(context.Background(), doc, "", opts)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, result.Success)
	var timeout *models.TimeoutError
	require.True(t, errors.As(result.Err, &timeout))
	assert.Equal(t, models.OperationExtraction, timeout.Operation)
	assert.Equal(t, SuggestionTimeout, result.Suggestion)

	// the abandoned run gives the document back once its wait is cut short
	assert.Eventually(t, func() bool { return doc.Owner() == "" }, 2*time.Second, 10*time.Millisecond)
}

func TestPreferredMethodIsTriedFirst(t *testing.T) {
	doc := load(t, articlePage(), "https://example.com/posts/gc")

	opts := models.DefaultPipelineOptions()
	opts.PreferredMethod = models.MethodHeuristic
	result := New(nil).Extract(context.Background(), doc, "", opts)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.MethodHeuristic, result.Method)
}

func TestPreferredManualSkipsAutomatedMethods(t *testing.T) {
	doc := load(t, articlePage(), "https://example.com/posts/gc")

	opts := models.DefaultPipelineOptions()
	opts.PreferredMethod = models.MethodManual
	result := New(nil).Extract(context.Background(), doc, "", opts)
	assert.False(t, result.Success)
	assert.True(t, result.RequiresManualSelection)
	assert.Zero(t, result.Metrics.Breakdown.Extraction)
}

func TestDisabledMethods(t *testing.T) {
	doc := load(t, articlePage(), "https://example.com/posts/gc")

	opts := models.DefaultPipelineOptions()
	opts.DisabledMethods = []models.Method{models.MethodReadability}
	result := New(nil).Extract(context.Background(), doc, "", opts)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.MethodHeuristic, result.Method)

	opts.DisabledMethods = append(opts.DisabledMethods, models.MethodHeuristic)
	result = New(nil).Extract(context.Background(), doc, "", opts)
	assert.True(t, result.RequiresManualSelection)
}

func TestOptionalPostProcessing(t *testing.T) {
	doc := load(t, articlePage(), "https://example.com/posts/gc")

	opts := models.DefaultPipelineOptions()
	opts.IncludeMarkdown = true
	opts.DetectLanguage = true
	result := New(nil).Extract(context.Background(), doc, "", opts)
	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.Content.Markdown, "The pacer decides when to start a new cycle.")
	assert.Equal(t, "en", result.Metadata["detectedLanguage"])
}

func TestEveryCallIsRecorded(t *testing.T) {
	metrics := monitoring.NewMetrics()
	history, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	p := New(nil, WithRecorder(metrics), WithHistory(history))
	ok := p.Extract(context.Background(), load(t, articlePage(), "https://example.com/posts/gc"), "", models.DefaultPipelineOptions())
	require.True(t, ok.Success, ok.Error)
	bad := p.Extract(context.Background(), load(t, shortPage, "https://example.com/notice"), "", models.DefaultPipelineOptions())
	require.False(t, bad.Success)

	snap := p.Analytics().Snapshot()
	assert.Equal(t, 2, snap.TotalAttempts)
	assert.Equal(t, 1, snap.SuccessCount)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
	assert.Equal(t, 1, snap.MethodBreakdown[ok.Method])
	require.Len(t, snap.FailurePatterns, 1)
	assert.Equal(t, analytics.PatternTooShort, snap.FailurePatterns[0].Pattern)
	assert.Equal(t, []string{"https://example.com/notice"}, snap.FailurePatterns[0].URLs)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Extractions.WithLabelValues(string(ok.Method), "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Extractions.WithLabelValues("none", "failure")))

	rows, err := history.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, bad.RequestID, rows[0].RequestID)
	assert.True(t, rows[0].RequiresManualSelection)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(6))
}

func TestRetryPolicyDo(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return &models.DocumentMutationError{Op: "readability", Err: errors.New("changed")}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(context.Background(), func(int) error {
		calls++
		return &models.MinimumContentError{Actual: 10, Required: 800}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return &models.TimeoutError{Operation: models.OperationDOMStability, Timeout: "1s"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
