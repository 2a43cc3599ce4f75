// Package analytics aggregates extraction outcomes: success rate, method usage,
// failure patterns and timing.
package analytics

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"extract-main-content/internal/models"

	"gonum.org/v1/gonum/stat"
)

// Failure pattern names
const (
	PatternTooShort    = "Content too short"
	PatternTimeout     = "Extraction timeout"
	PatternSPA         = "SPA content loading failed"
	PatternMutation    = "Document mutation during extraction"
	PatternNotReadable = "Page not readable"
	PatternOther       = "Other extraction error"
)

const (
	// MaxPatternURLs caps the URL list kept per failure pattern
	MaxPatternURLs = 100
	// TimingWindow bounds the samples used for the P95
	TimingWindow = 1000
)

// Analytics is safe for concurrent use
type Analytics struct {
	mu       sync.Mutex
	total    int
	success  int
	methods  map[models.Method]int
	patterns map[string]*models.FailurePattern
	mean     float64
	samples  []float64
	next     int
	now      func() time.Time
}

// New returns an empty aggregate
func New() *Analytics {
	return &Analytics{
		methods:  make(map[models.Method]int),
		patterns: make(map[string]*models.FailurePattern),
		now:      time.Now,
	}
}

// Record adds one pipeline outcome
func (a *Analytics) Record(rawURL string, result models.ExtractionResult, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if result.Success {
		a.success++
		a.methods[result.Method]++
	} else {
		a.addFailure(Classify(result), rawURL)
	}

	ns := float64(elapsed.Nanoseconds())
	a.mean += (ns - a.mean) / float64(a.total)
	if len(a.samples) < TimingWindow {
		a.samples = append(a.samples, ns)
	} else {
		a.samples[a.next] = ns
		a.next = (a.next + 1) % TimingWindow
	}
}

func (a *Analytics) addFailure(pattern, rawURL string) {
	fp, ok := a.patterns[pattern]
	if !ok {
		fp = &models.FailurePattern{Pattern: pattern}
		a.patterns[pattern] = fp
	}
	fp.Count++
	if rawURL == "" {
		return
	}
	fp.URLs = append(fp.URLs, rawURL)
	if over := len(fp.URLs) - MaxPatternURLs; over > 0 {
		fp.URLs = append([]string(nil), fp.URLs[over:]...)
	}
}

// Snapshot returns a copy of the aggregate
func (a *Analytics) Snapshot() models.AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := models.AnalyticsSnapshot{
		TotalAttempts:         a.total,
		SuccessCount:          a.success,
		MethodBreakdown:       make(map[models.Method]int, len(a.methods)),
		FailurePatterns:       make([]models.FailurePattern, 0, len(a.patterns)),
		AverageExtractionTime: time.Duration(a.mean),
		TakenAt:               a.now(),
	}
	if a.total > 0 {
		snap.SuccessRate = float64(a.success) / float64(a.total)
	}
	for m, n := range a.methods {
		snap.MethodBreakdown[m] = n
	}
	for _, fp := range a.patterns {
		snap.FailurePatterns = append(snap.FailurePatterns, models.FailurePattern{
			Pattern: fp.Pattern,
			Count:   fp.Count,
			URLs:    append([]string(nil), fp.URLs...),
		})
	}
	sort.Slice(snap.FailurePatterns, func(i, j int) bool {
		pi, pj := snap.FailurePatterns[i], snap.FailurePatterns[j]
		if pi.Count != pj.Count {
			return pi.Count > pj.Count
		}
		return pi.Pattern < pj.Pattern
	})
	if len(a.samples) > 0 {
		sorted := append([]float64(nil), a.samples...)
		sort.Float64s(sorted)
		snap.P95ExtractionTime = time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	}
	return snap
}

// Reset clears every counter
func (a *Analytics) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total, a.success = 0, 0
	a.methods = make(map[models.Method]int)
	a.patterns = make(map[string]*models.FailurePattern)
	a.mean = 0
	a.samples = nil
	a.next = 0
}

// Classify maps a failed result onto a failure pattern. Typed causes win;
// the error text is the fallback for results that lost their cause.
func Classify(result models.ExtractionResult) string {
	if err := result.Err; err != nil {
		var (
			timeout     *models.TimeoutError
			mutation    *models.DocumentMutationError
			minimum     *models.MinimumContentError
			readability *models.ReadabilityError
		)
		switch {
		case errors.As(err, &timeout):
			if timeout.Operation == models.OperationSPAContent {
				return PatternSPA
			}
			return PatternTimeout
		case errors.As(err, &mutation):
			return PatternMutation
		case errors.As(err, &minimum):
			return PatternTooShort
		case errors.As(err, &readability):
			return PatternNotReadable
		}
	}

	msg := strings.ToLower(result.Error)
	switch {
	case strings.Contains(msg, "spa content"):
		return PatternSPA
	case strings.Contains(msg, "timeout"):
		return PatternTimeout
	case strings.Contains(msg, "mutated"):
		return PatternMutation
	case strings.Contains(msg, "too short"):
		return PatternTooShort
	case strings.Contains(msg, "readability"):
		return PatternNotReadable
	}
	return PatternOther
}
