package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unsupported page", err: &UnsupportedPageError{Kind: PageKindPDF, URL: "https://x/a.pdf"}, want: false},
		{name: "minimum content", err: &MinimumContentError{Actual: 10, Required: 800}, want: false},
		{name: "manual selection required", err: fmt.Errorf("stage: %w", ErrManualSelectionRequired), want: false},
		{name: "manual selection failure", err: &ManualSelectionError{Reason: SelectionEmpty}, want: false},
		{name: "readability", err: &ReadabilityError{Reason: ReasonNotReadable}, want: false},
		{name: "timeout", err: &TimeoutError{Operation: OperationDOMStability, Timeout: "5s"}, want: true},
		{name: "wrapped timeout", err: fmt.Errorf("wait: %w", &TimeoutError{Operation: OperationExtraction}), want: true},
		{name: "mutation", err: &DocumentMutationError{Op: "snapshot", Err: errors.New("detached")}, want: true},
		{name: "message passing", err: &MessagePassingError{Channel: "ws", Err: errors.New("closed")}, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "generic", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestMinimumContentErrorMentionsRequiredLength(t *testing.T) {
	err := &MinimumContentError{Actual: 120, Required: 800}
	assert.Contains(t, err.Error(), "800")
	assert.Contains(t, err.Error(), "120")
}

func TestManualSelectionErrorMessages(t *testing.T) {
	assert.Contains(t, (&ManualSelectionError{Reason: SelectionBelowMinimum, Actual: 10, Required: 800}).Error(), "800")
	assert.Contains(t, (&ManualSelectionError{Reason: SelectionEmpty}).Error(), "empty")
	assert.Contains(t, (&ManualSelectionError{Reason: SelectionNotActive}).Error(), "not active")
}

func TestPipelineOptionsMerge(t *testing.T) {
	base := DefaultPipelineOptions()
	base.DisabledMethods = []Method{MethodHeuristic}

	merged := base.Merge(&RequestOptions{
		TimeoutMs:       1500,
		PreferredMethod: MethodReadability,
		DisabledMethods: []Method{MethodSiteSpecific},
		IncludeMarkdown: true,
	})

	assert.Equal(t, 1500*time.Millisecond, merged.Timeout)
	assert.Equal(t, MethodReadability, merged.PreferredMethod)
	assert.True(t, merged.Disabled(MethodHeuristic))
	assert.True(t, merged.Disabled(MethodSiteSpecific))
	assert.False(t, merged.Disabled(MethodReadability))
	assert.True(t, merged.IncludeMarkdown)
	assert.Equal(t, MinContentLength, merged.MinLength())

	// base is untouched
	assert.Len(t, base.DisabledMethods, 1)
	assert.Equal(t, base, base.Merge(nil))
}

func TestSkipSiteSpecificDisablesMethod(t *testing.T) {
	opts := PipelineOptions{SkipSiteSpecific: true}
	assert.True(t, opts.Disabled(MethodSiteSpecific))
	assert.False(t, opts.Disabled(MethodReadability))
}

func TestExtractionResultTextLength(t *testing.T) {
	assert.Equal(t, 0, ExtractionResult{}.TextLength())
	r := ExtractionResult{Content: &Content{Text: "héllo"}}
	assert.Equal(t, 5, r.TextLength())
}
