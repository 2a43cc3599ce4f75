package models

import (
	"time"
	"unicode/utf8"
)

// MinContentLength is the character floor every successful extraction must reach
const MinContentLength = 800

// Method identifies the strategy that produced a result
type Method string

const (
	MethodSiteSpecific Method = "site-specific"
	MethodReadability  Method = "readability"
	MethodHeuristic    Method = "heuristic"
	MethodManual       Method = "manual"
)

// Methods lists the automated methods in pipeline order, followed by manual
var Methods = []Method{MethodSiteSpecific, MethodReadability, MethodHeuristic, MethodManual}

// Valid reports whether m is a known method
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Content is the extracted main content
type Content struct {
	Text     string `json:"text"`
	Title    string `json:"title,omitempty"`
	HTML     string `json:"html,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// ExtractionResult is the uniform result of every extraction method
type ExtractionResult struct {
	Success  bool           `json:"success"`
	Method   Method         `json:"method"`
	Content  *Content       `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`

	// Err keeps the typed cause of a failure for classification
	Err error `json:"-"`
}

// TextLength returns the character count of the extracted text
func (r ExtractionResult) TextLength() int {
	if r.Content == nil {
		return 0
	}
	return utf8.RuneCountInString(r.Content.Text)
}

// Failure builds a failed result for the given method
func Failure(method Method, err error) ExtractionResult {
	msg := "extraction failed"
	if err != nil {
		msg = err.Error()
	}
	return ExtractionResult{Success: false, Method: method, Error: msg, Err: err}
}

// FrameworkInfo describes the client-side framework detected on a page
type FrameworkInfo struct {
	Name       string  `json:"name"`
	Version    string  `json:"version,omitempty"`
	Confidence float64 `json:"confidence"`
}

// StageBreakdown holds per-stage wall-clock durations
type StageBreakdown struct {
	SiteDetection  time.Duration `json:"siteDetection"`
	SPADetection   time.Duration `json:"spaDetection"`
	Extraction     time.Duration `json:"extraction"`
	PostProcessing time.Duration `json:"postProcessing"`
}

// PipelineMetrics is collected once per pipeline invocation
type PipelineMetrics struct {
	ExtractionTime time.Duration  `json:"extractionTime"`
	Method         Method         `json:"method,omitempty"`
	Attempts       int            `json:"attempts"`
	Breakdown      StageBreakdown `json:"breakdown"`
}

// PipelineResult is what the orchestrator returns to callers
type PipelineResult struct {
	ExtractionResult
	RequiresManualSelection bool            `json:"requiresManualSelection,omitempty"`
	Suggestion              string          `json:"suggestion,omitempty"`
	Framework               *FrameworkInfo  `json:"framework,omitempty"`
	Metrics                 PipelineMetrics `json:"metrics"`
	RequestID               string          `json:"requestId,omitempty"`
}

// FailurePattern groups failed extractions by cause
type FailurePattern struct {
	Pattern string   `json:"pattern"`
	Count   int      `json:"count"`
	URLs    []string `json:"urls"`
}

// AnalyticsSnapshot is a point-in-time copy of the analytics aggregate
type AnalyticsSnapshot struct {
	TotalAttempts         int              `json:"totalAttempts"`
	SuccessCount          int              `json:"successCount"`
	SuccessRate           float64          `json:"successRate"`
	MethodBreakdown       map[Method]int   `json:"methodBreakdown"`
	FailurePatterns       []FailurePattern `json:"failurePatterns"`
	AverageExtractionTime time.Duration    `json:"averageExtractionTime"`
	P95ExtractionTime     time.Duration    `json:"p95ExtractionTime"`
	TakenAt               time.Time        `json:"takenAt"`
}

// ExtractRequest is the inbound API request
type ExtractRequest struct {
	URL     string          `json:"url"`
	HTML    string          `json:"html,omitempty"`
	Render  bool            `json:"render,omitempty"`
	Options *RequestOptions `json:"options,omitempty"`
}

// RequestOptions is the JSON form of PipelineOptions
type RequestOptions struct {
	TimeoutMs            int      `json:"timeoutMs,omitempty"`
	MinimumContentLength int      `json:"minimumContentLength,omitempty"`
	PreferredMethod      Method   `json:"preferredMethod,omitempty"`
	SkipSiteSpecific     bool     `json:"skipSiteSpecific,omitempty"`
	SPATimeoutMs         int      `json:"spaTimeoutMs,omitempty"`
	DisabledMethods      []Method `json:"disabledMethods,omitempty"`
	IncludeMarkdown      bool     `json:"includeMarkdown,omitempty"`
	DetectLanguage       bool     `json:"detectLanguage,omitempty"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
