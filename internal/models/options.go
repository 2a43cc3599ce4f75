package models

import "time"

// PipelineOptions defines configurable options for a single pipeline invocation
type PipelineOptions struct {
	Timeout              time.Duration
	MinimumContentLength int
	PreferredMethod      Method
	SkipSiteSpecific     bool
	SPATimeout           time.Duration
	DisabledMethods      []Method
	IncludeMarkdown      bool
	DetectLanguage       bool
}

// DefaultPipelineOptions returns sensible defaults for extraction
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Timeout:              30 * time.Second,
		MinimumContentLength: MinContentLength,
	}
}

// MinLength returns the effective content floor
func (o PipelineOptions) MinLength() int {
	if o.MinimumContentLength <= 0 {
		return MinContentLength
	}
	return o.MinimumContentLength
}

// Disabled reports whether the caller switched off a method
func (o PipelineOptions) Disabled(m Method) bool {
	if m == MethodSiteSpecific && o.SkipSiteSpecific {
		return true
	}
	for _, d := range o.DisabledMethods {
		if d == m {
			return true
		}
	}
	return false
}

// Merge overlays request options on top of o; zero values keep o's setting
func (o PipelineOptions) Merge(req *RequestOptions) PipelineOptions {
	if req == nil {
		return o
	}
	if req.TimeoutMs > 0 {
		o.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if req.MinimumContentLength > 0 {
		o.MinimumContentLength = req.MinimumContentLength
	}
	if req.PreferredMethod != "" {
		o.PreferredMethod = req.PreferredMethod
	}
	if req.SPATimeoutMs > 0 {
		o.SPATimeout = time.Duration(req.SPATimeoutMs) * time.Millisecond
	}
	o.SkipSiteSpecific = o.SkipSiteSpecific || req.SkipSiteSpecific
	o.DisabledMethods = append(append([]Method{}, o.DisabledMethods...), req.DisabledMethods...)
	o.IncludeMarkdown = o.IncludeMarkdown || req.IncludeMarkdown
	o.DetectLanguage = o.DetectLanguage || req.DetectLanguage
	return o
}
