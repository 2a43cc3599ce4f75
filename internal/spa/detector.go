// Package spa recognises client-rendered pages and waits for their content to
// be populated before extraction runs.
package spa

import (
	"context"
	"math"
	"regexp"
	"strings"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// detectThreshold is the confidence a framework (or the generic heuristic) must exceed
const detectThreshold = 0.5

// Detection is the outcome of framework detection. Framework is empty when no
// framework qualified.
type Detection struct {
	Framework  string
	Version    string
	Confidence float64
}

// IsSPA reports whether the page was recognised as client-rendered
func (d Detection) IsSPA() bool { return d.Framework != "" }

// Info converts the detection for a pipeline result. Nil when nothing was detected.
func (d Detection) Info() *models.FrameworkInfo {
	if !d.IsSPA() {
		return nil
	}
	return &models.FrameworkInfo{Name: d.Framework, Version: d.Version, Confidence: d.Confidence}
}

// Detector identifies the client-side framework of a document
type Detector struct {
	probe      *Probe
	strategies map[string]WaitStrategy
	logger     *zap.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithProbe enables inline script evaluation as an extra source of globals
func WithProbe(p *Probe) Option {
	return func(d *Detector) { d.probe = p }
}

// WithStrategy overrides the wait strategy for one framework ("" for the default)
func WithStrategy(framework string, s WaitStrategy) Option {
	return func(d *Detector) { d.strategies[framework] = s }
}

// NewDetector creates a detector
func NewDetector(logger *zap.Logger, opts ...Option) *Detector {
	d := &Detector{
		strategies: make(map[string]WaitStrategy, len(defaultStrategies)),
		logger:     logging.OrNop(logger).Named("spa"),
	}
	for k, v := range defaultStrategies {
		d.strategies[k] = v
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect inspects a snapshot of the live document together with its runtime
// globals and, when configured, the globals its inline scripts define.
func (d *Detector) Detect(ctx context.Context, doc *dom.Document) (Detection, error) {
	snap, err := doc.SnapshotDocument()
	if err != nil {
		return Detection{}, err
	}
	globals := doc.Globals()
	if d.probe != nil {
		res := d.probe.Run(ctx, snap, doc.URL())
		for k, v := range res.Globals {
			if _, ok := globals[k]; !ok {
				globals[k] = v
			}
		}
		d.logger.Debug("inline script probe",
			zap.Int("executed", res.Executed),
			zap.Int("failed", res.Failed),
			zap.Bool("interrupted", res.Interrupted),
			zap.Int("globals", len(res.Globals)))
	}

	det := DetectFrom(snap, globals)
	if det.IsSPA() {
		d.logger.Debug("framework detected",
			zap.String("framework", det.Framework),
			zap.String("version", det.Version),
			zap.Float64("confidence", det.Confidence))
	}
	return det, nil
}

// DetectFrom scores every known framework in order and returns the first whose
// confidence exceeds 0.5. When none does, the generic SPA heuristic decides
// between "unknown" and no framework.
func DetectFrom(doc *goquery.Document, globals map[string]string) Detection {
	if globals == nil {
		globals = map[string]string{}
	}
	facts := collectFacts(doc, globals)

	for _, fw := range frameworks {
		score := 0.0
		for _, s := range fw.signals {
			if facts.matches(s) {
				score += s.weight
			}
		}
		score = round2(math.Min(score, 1))
		if score <= detectThreshold {
			continue
		}
		det := Detection{Framework: fw.name, Confidence: score}
		if fw.version != nil {
			det.Version = fw.version(doc, globals)
		}
		return det
	}

	residual := round2(math.Min(genericScore(doc, facts), 1))
	if residual > detectThreshold {
		return Detection{Framework: FrameworkUnknown, Confidence: residual}
	}
	return Detection{Confidence: residual}
}

var (
	bundlePattern = regexp.MustCompile(`(?i)((bundle|main|app|chunk|vendor|runtime)[.-][0-9a-f]{6,}\.js|/static/js/|(^|/)(bundle|app)\.js)`)
	historyCalls  = []string{"history.pushState", "history.replaceState", "popstate"}
)

const routerSelector = `router-outlet, router-view, [ui-view], [ng-view], [data-router], a[href^="#/"], a[href^="#!/"]`

// genericScore looks for traits shared by client-rendered apps regardless of framework
func genericScore(doc *goquery.Document, facts *pageFacts) float64 {
	score := 0.0

	for _, a := range facts.assets {
		if bundlePattern.MatchString(a) {
			score += 0.3
			break
		}
	}

	if body := doc.Find("body"); body.Length() > 0 {
		textLen := len([]rune(strings.TrimSpace(dom.VisibleText(body.Get(0)))))
		if textLen < MinSPAContent && doc.Find("script").Length() >= 3 {
			score += 0.3
		}
	}

	if doc.Find(routerSelector).Length() > 0 {
		score += 0.2
	}

	historyUsed := facts.globals[HistoryGlobal] != ""
	if !historyUsed {
		doc.Find("script:not([src])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			code := s.Text()
			for _, call := range historyCalls {
				if strings.Contains(code, call) {
					historyUsed = true
					return false
				}
			}
			return true
		})
	}
	if historyUsed {
		score += 0.2
	}
	return score
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
