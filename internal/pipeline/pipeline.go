// Package pipeline runs the extraction methods for a document in a fixed order:
// site-specific extractors, an SPA content wait, readability and heuristic
// scoring. When every method fails the caller is asked to select the content
// manually.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"extract-main-content/internal/analytics"
	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"
	"extract-main-content/internal/extractor"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"
	"extract-main-content/internal/sites"
	"extract-main-content/internal/spa"
	"extract-main-content/internal/stability"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Stage names used for metrics and logs
const (
	StageSiteSpecific   = "site-specific"
	StageSPA            = "spa"
	StageReadability    = "readability"
	StageHeuristic      = "heuristic"
	StagePostProcessing = "post-processing"
)

// Suggestions returned with failures
const (
	SuggestionManual  = "Automatic extraction could not find enough content. Select the main content of the page manually."
	SuggestionSPA     = "The page is still rendering its content. Retry once it has finished loading, or select the content manually."
	SuggestionTimeout = "Extraction took too long. Retry, or select the content manually."
)

// SPAContentTimeout is the error text of a terminal SPA wait failure
const SPAContentTimeout = "SPA content timeout"

var errNoSiteExtractor = errors.New("no site extractor matches the URL")

// Recorder receives pipeline measurements
type Recorder interface {
	ObserveExtraction(method models.Method, success bool, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	ObserveSPA(framework string)
	ObserveStabilityWait(stable bool, d time.Duration)
}

// History persists finished pipeline calls
type History interface {
	RecordExtraction(ctx context.Context, rawURL string, r models.PipelineResult) error
}

type nopRecorder struct{}

func (nopRecorder) ObserveExtraction(models.Method, bool, time.Duration) {}
func (nopRecorder) ObserveStage(string, time.Duration)                   {}
func (nopRecorder) ObserveSPA(string)                                    {}
func (nopRecorder) ObserveStabilityWait(bool, time.Duration)             {}

// Pipeline orchestrates extraction for documents. It is safe for concurrent
// use; calls for the same document are serialized by the document session lock.
type Pipeline struct {
	sites     *sites.Registry
	detector  *spa.Detector
	probe     *spa.Probe
	general   *extractor.General
	images    *extractor.ImagePicker
	analytics *analytics.Analytics
	recorder  Recorder
	history   History
	retry     RetryPolicy
	ignored   []string
	sanitizer *bluemonday.Policy
	languages *languageDetector
	logger    *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRegistry replaces the built-in site extractor registry
func WithRegistry(r *sites.Registry) Option {
	return func(p *Pipeline) { p.sites = r }
}

// WithDetector replaces the SPA detector
func WithDetector(d *spa.Detector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// WithAnalytics shares an analytics aggregate with the pipeline
func WithAnalytics(a *analytics.Analytics) Option {
	return func(p *Pipeline) { p.analytics = a }
}

// WithRecorder sends measurements to r
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithHistory persists every finished call
func WithHistory(h History) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithRetry sets the retry policy for retryable stage failures
func WithRetry(r RetryPolicy) Option {
	return func(p *Pipeline) { p.retry = r }
}

// WithImagePicker replaces the lead image picker
func WithImagePicker(ip *extractor.ImagePicker) Option {
	return func(p *Pipeline) { p.images = ip }
}

// WithIgnoredSelectors sets the selectors whose mutations SPA waits ignore
func WithIgnoredSelectors(selectors []string) Option {
	return func(p *Pipeline) { p.ignored = append([]string(nil), selectors...) }
}

// FromConfig applies the extraction, stability and image sections of cfg
func FromConfig(cfg *config.Config) Option {
	return func(p *Pipeline) {
		p.retry = RetryPolicy{
			Attempts:  cfg.Extraction.RetryAttempts,
			BaseDelay: cfg.Extraction.RetryBaseDelay,
			MaxDelay:  cfg.Extraction.RetryMaxDelay,
		}
		p.ignored = cfg.StabilityOptions().IgnoredSelectors
		p.images = extractor.NewImagePicker(cfg.Image)
		if cfg.Extraction.ScriptProbe {
			p.probe = spa.NewProbe(spa.ProbeConfig{UserAgent: cfg.Scrape.UserAgentString()})
		}
	}
}

// New creates a pipeline with the built-in extractors
func New(logger *zap.Logger, opts ...Option) *Pipeline {
	logger = logging.OrNop(logger)
	p := &Pipeline{
		general:   extractor.NewGeneral(logger),
		recorder:  nopRecorder{},
		retry:     DefaultRetryPolicy(),
		ignored:   stability.DefaultOptions().IgnoredSelectors,
		sanitizer: bluemonday.UGCPolicy(),
		languages: &languageDetector{},
		logger:    logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sites == nil {
		p.sites = sites.Default(logger)
	}
	if p.detector == nil {
		var dopts []spa.Option
		if p.probe != nil {
			dopts = append(dopts, spa.WithProbe(p.probe))
		}
		p.detector = spa.NewDetector(logger, dopts...)
	}
	if p.images == nil {
		p.images = extractor.NewImagePicker(config.Default().Image)
	}
	if p.analytics == nil {
		p.analytics = analytics.New()
	}
	return p
}

// Analytics returns the aggregate every call updates
func (p *Pipeline) Analytics() *analytics.Analytics {
	return p.analytics
}

// Extract runs the pipeline for doc. It never returns an error: every failure
// is reported through the result. rawURL defaults to the document URL.
func (p *Pipeline) Extract(ctx context.Context, doc *dom.Document, rawURL string, opts models.PipelineOptions) models.PipelineResult {
	start := time.Now()
	requestID := ulid.Make().String()
	if rawURL == "" {
		rawURL = doc.RawURL()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultPipelineOptions().Timeout
	}

	log := p.logger.With(zap.String("request_id", requestID), zap.String("url", rawURL))
	log.Debug("extraction started",
		zap.Duration("timeout", opts.Timeout),
		zap.Int("min_length", opts.MinLength()),
		zap.String("preferred", string(opts.PreferredMethod)))

	c := &call{
		doc:   doc,
		url:   parseURL(rawURL),
		opts:  opts,
		owner: "pipeline:" + requestID,
		log:   log,
	}

	// waits inside the abandoned run end when Extract returns
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan models.PipelineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("extraction panicked", zap.Any("panic", r))
				done <- failed(models.Failure("", fmt.Errorf("extraction panicked: %v", r)), SuggestionManual)
			}
		}()
		done <- p.run(runCtx, c)
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	var result models.PipelineResult
	select {
	case result = <-done:
	case <-timer.C:
		log.Warn("extraction timed out", zap.Duration("timeout", opts.Timeout))
		result = failed(models.Failure("", &models.TimeoutError{
			Operation: models.OperationExtraction,
			Timeout:   opts.Timeout.String(),
		}), SuggestionTimeout)
	case <-ctx.Done():
		result = failed(models.Failure("", fmt.Errorf("extraction cancelled: %w", ctx.Err())), SuggestionTimeout)
	}

	breakdown, attempts := c.measurements()
	result.RequestID = requestID
	result.Metrics.Breakdown = breakdown
	result.Metrics.Attempts = attempts
	result.Metrics.Method = result.Method
	result.Metrics.ExtractionTime = time.Since(start)

	p.finish(ctx, rawURL, result, log)
	return result
}

func (p *Pipeline) finish(ctx context.Context, rawURL string, result models.PipelineResult, log *zap.Logger) {
	elapsed := result.Metrics.ExtractionTime
	p.analytics.Record(rawURL, result.ExtractionResult, elapsed)
	p.recorder.ObserveExtraction(result.Method, result.Success, elapsed)
	if p.history != nil {
		if err := p.history.RecordExtraction(context.WithoutCancel(ctx), rawURL, result); err != nil {
			log.Warn("failed to record extraction", zap.Error(err))
		}
	}

	if result.Success {
		log.Info("extraction succeeded",
			zap.String("method", string(result.Method)),
			zap.Int("length", result.TextLength()),
			zap.Int("attempts", result.Metrics.Attempts),
			zap.Duration("elapsed", elapsed))
		return
	}
	log.Info("extraction failed",
		zap.String("error", result.Error),
		zap.Bool("manual", result.RequiresManualSelection),
		zap.Duration("elapsed", elapsed))
}

// call is the state of one Extract invocation. The run goroutine may outlive
// Extract, so measurements are guarded.
type call struct {
	doc   *dom.Document
	url   *url.URL
	opts  models.PipelineOptions
	owner string
	log   *zap.Logger

	mu        sync.Mutex
	breakdown models.StageBreakdown
	attempts  int
}

func (c *call) addStage(stage string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch stage {
	case StageSiteSpecific:
		c.breakdown.SiteDetection += d
	case StageSPA:
		c.breakdown.SPADetection += d
	case StagePostProcessing:
		c.breakdown.PostProcessing += d
	default:
		c.breakdown.Extraction += d
	}
}

func (c *call) addAttempt() {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
}

func (c *call) measurements() (models.StageBreakdown, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakdown, c.attempts
}

func (p *Pipeline) run(ctx context.Context, c *call) models.PipelineResult {
	release, err := c.doc.Acquire(ctx, c.owner)
	if err != nil {
		return failed(models.Failure("", fmt.Errorf("document is busy: %w", err)), SuggestionTimeout)
	}
	defer release()

	minLength := c.opts.MinLength()
	tried := make(map[models.Method]bool)
	var causes []error

	if !c.opts.Disabled(models.MethodSiteSpecific) {
		tried[models.MethodSiteSpecific] = true
		r := p.stage(ctx, c, models.MethodSiteSpecific, StageSiteSpecific, minLength)
		if r.Success {
			return p.postProcess(c, r, nil)
		}
		causes = appendCause(causes, r.Err)
	}

	framework, terminal := p.awaitSPA(ctx, c)
	if terminal != nil {
		return *terminal
	}

	order := []models.Method{models.MethodReadability, models.MethodHeuristic}
	switch pm := c.opts.PreferredMethod; {
	case pm == "":
	case pm == models.MethodManual:
		c.log.Debug("manual selection preferred, skipping automated methods")
		return manualRequired(framework, causes)
	case !pm.Valid():
		c.log.Warn("ignoring unknown preferred method", zap.String("method", string(pm)))
	default:
		order = append([]models.Method{pm}, order...)
	}

	for _, m := range order {
		if tried[m] || c.opts.Disabled(m) {
			continue
		}
		tried[m] = true
		r := p.stage(ctx, c, m, stageFor(m), minLength)
		if r.Success {
			return p.postProcess(c, r, framework)
		}
		causes = appendCause(causes, r.Err)
	}

	return manualRequired(framework, causes)
}

func stageFor(m models.Method) string {
	switch m {
	case models.MethodSiteSpecific:
		return StageSiteSpecific
	case models.MethodReadability:
		return StageReadability
	default:
		return StageHeuristic
	}
}

// stage runs one method with retries and records its duration
func (p *Pipeline) stage(ctx context.Context, c *call, m models.Method, name string, minLength int) models.ExtractionResult {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		c.addStage(name, d)
		p.recorder.ObserveStage(name, d)
	}()

	var result models.ExtractionResult
	_ = p.retry.Do(ctx, func(attempt int) error {
		c.addAttempt()
		before := c.doc.Version()
		result = p.safely(c, m, func() models.ExtractionResult {
			return p.method(ctx, c, m, minLength)
		})
		if after := c.doc.Version(); result.Success && after != before {
			result = models.Failure(m, &models.DocumentMutationError{
				Op:  name,
				Err: fmt.Errorf("document version moved from %d to %d", before, after),
			})
		}
		if !result.Success && attempt > 1 {
			c.log.Debug("stage retry failed", zap.String("stage", name), zap.Int("attempt", attempt), zap.String("error", result.Error))
		}
		if result.Success {
			return nil
		}
		return result.Err
	})
	return result
}

// safely converts a panicking method into a failed result
func (p *Pipeline) safely(c *call, m models.Method, fn func() models.ExtractionResult) (result models.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("extraction method panicked", zap.String("method", string(m)), zap.Any("panic", r))
			result = models.Failure(m, fmt.Errorf("%s panicked: %v", m, r))
		}
	}()
	return fn()
}

func (p *Pipeline) method(ctx context.Context, c *call, m models.Method, minLength int) models.ExtractionResult {
	switch m {
	case models.MethodSiteSpecific:
		return p.siteSpecific(ctx, c, minLength)
	case models.MethodReadability:
		return p.general.ExtractWithReadability(c.doc, minLength)
	default:
		return p.general.ExtractWithHeuristics(c.doc, minLength)
	}
}

func (p *Pipeline) siteSpecific(ctx context.Context, c *call, minLength int) models.ExtractionResult {
	if c.url == nil {
		return models.Failure(models.MethodSiteSpecific, errNoSiteExtractor)
	}
	snap, err := c.doc.SnapshotDocument()
	if err != nil {
		return models.Failure(models.MethodSiteSpecific, err)
	}

	content, err := p.sites.ExtractContent(ctx, c.url, snap)
	if err != nil {
		return models.Failure(models.MethodSiteSpecific, err)
	}
	if content == nil {
		return models.Failure(models.MethodSiteSpecific, errNoSiteExtractor)
	}

	text := strings.TrimSpace(content.Text)
	if length := utf8.RuneCountInString(text); length < minLength {
		return models.Failure(models.MethodSiteSpecific, &models.MinimumContentError{Actual: length, Required: minLength})
	}

	meta := map[string]any{"extractor": content.Extractor}
	for k, v := range content.Metadata {
		meta[k] = v
	}
	return models.ExtractionResult{
		Success: true,
		Method:  models.MethodSiteSpecific,
		Content: &models.Content{
			Text:  text,
			Title: content.Title,
			HTML:  content.HTML,
		},
		Metadata: meta,
	}
}

// awaitSPA detects client-side frameworks and waits for their content. A
// non-nil result is terminal for the call.
func (p *Pipeline) awaitSPA(ctx context.Context, c *call) (*models.FrameworkInfo, *models.PipelineResult) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		c.addStage(StageSPA, d)
		p.recorder.ObserveStage(StageSPA, d)
	}()

	det, err := p.detector.Detect(ctx, c.doc)
	if err != nil {
		c.log.Debug("spa detection failed", zap.Error(err))
		return nil, nil
	}
	if !det.IsSPA() {
		return nil, nil
	}
	info := det.Info()
	p.recorder.ObserveSPA(det.Framework)

	// a loaded document that already carries enough text needs no wait
	if c.doc.ReadyState() == dom.StateComplete && c.doc.BodyTextLength() >= c.opts.MinLength() {
		c.log.Debug("spa already rendered", zap.String("framework", det.Framework))
		return info, nil
	}

	monitor := stability.NewMonitor(c.doc, p.logger)
	res, err := p.detector.WaitForContent(ctx, c.doc, monitor, det, c.opts.SPATimeout, p.ignored)
	p.recorder.ObserveStabilityWait(res.Stable, res.Waited)
	if err == nil && res.Stable {
		return info, nil
	}

	budget := c.opts.SPATimeout
	if budget <= 0 {
		budget = p.detector.GetRecommendedTimeout(det.Framework, c.doc.NodeCount())
	}
	c.log.Info("spa content never settled",
		zap.String("framework", det.Framework),
		zap.Duration("budget", budget),
		zap.Int("content_length", res.ContentLength),
		zap.Error(err))

	result := failed(models.ExtractionResult{
		Error: SPAContentTimeout,
		Err: &models.TimeoutError{
			Operation: models.OperationSPAContent,
			Timeout:   budget.String(),
			Err:       err,
		},
	}, SuggestionSPA)
	result.Framework = info
	return info, &result
}

func manualRequired(framework *models.FrameworkInfo, causes []error) models.PipelineResult {
	msg := models.ErrManualSelectionRequired.Error()
	if len(causes) > 0 {
		reasons := make([]string, len(causes))
		for i, err := range causes {
			reasons[i] = err.Error()
		}
		msg += ": " + strings.Join(reasons, "; ")
	}

	result := failed(models.ExtractionResult{
		Error: msg,
		Err:   errors.Join(append([]error{models.ErrManualSelectionRequired}, causes...)...),
	}, SuggestionManual)
	result.RequiresManualSelection = true
	result.Framework = framework
	return result
}

func failed(r models.ExtractionResult, suggestion string) models.PipelineResult {
	r.Success = false
	return models.PipelineResult{ExtractionResult: r, Suggestion: suggestion}
}

func appendCause(causes []error, err error) []error {
	if err == nil || errors.Is(err, errNoSiteExtractor) {
		return causes
	}
	return append(causes, err)
}

func parseURL(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}
