// Package models defines typed errors for better error handling and context.
package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrManualSelectionRequired is returned when every automated method has failed
var ErrManualSelectionRequired = errors.New("manual selection required")

// Unsupported page kinds
const (
	PageKindPDF         = "pdf"
	PageKindIframe      = "iframe"
	PageKindCrossOrigin = "cross-origin"
	PageKindAppShell    = "app-shell"
	PageKindBlocked     = "blocked"
	PageKindNonHTML     = "non-html"
)

// UnsupportedPageError represents a page that no extraction method can handle
type UnsupportedPageError struct {
	Kind   string
	URL    string
	Reason string
}

func (e *UnsupportedPageError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported page (%s): %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("unsupported page (%s) %s: %s", e.Kind, e.URL, e.Reason)
}

// MinimumContentError represents extracted text below the content floor
type MinimumContentError struct {
	Actual   int
	Required int
}

func (e *MinimumContentError) Error() string {
	return fmt.Sprintf("content too short: %d characters, at least %d required", e.Actual, e.Required)
}

// Timeout operations
const (
	OperationExtraction   = "extraction"
	OperationDOMStability = "dom-stability"
	OperationSPAContent   = "spa-content"
)

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Timeout   string
	Err       error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("timeout during %s after %s", e.Operation, e.Timeout)
	}
	return fmt.Sprintf("timeout during %s after %s: %v", e.Operation, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ReadabilityError represents a failure of the readability algorithm
type ReadabilityError struct {
	Reason string
	Err    error
}

// ReasonNotReadable is used when the probably-readable gate rejects a document
const ReasonNotReadable = "not-readable"

func (e *ReadabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("readability failed: %s", e.Reason)
	}
	return fmt.Sprintf("readability failed: %s: %v", e.Reason, e.Err)
}

func (e *ReadabilityError) Unwrap() error { return e.Err }

// Manual selection failure reasons
const (
	SelectionNotActive    = "mode-not-active"
	SelectionEmpty        = "no-selection"
	SelectionBelowMinimum = "below-minimum"
)

// ManualSelectionError is returned synchronously to the caller driving a selection session
type ManualSelectionError struct {
	Reason   string
	Actual   int
	Required int
}

func (e *ManualSelectionError) Error() string {
	switch e.Reason {
	case SelectionBelowMinimum:
		return fmt.Sprintf("manual selection has %d characters, at least %d required", e.Actual, e.Required)
	case SelectionEmpty:
		return "manual selection is empty"
	default:
		return "manual selection mode is not active"
	}
}

// MessagePassingError represents a failure talking to the host
type MessagePassingError struct {
	Channel string
	Err     error
}

func (e *MessagePassingError) Error() string {
	return fmt.Sprintf("message passing failed on %s: %v", e.Channel, e.Err)
}

func (e *MessagePassingError) Unwrap() error { return e.Err }

// DocumentMutationError represents a document that changed underneath an operation
type DocumentMutationError struct {
	Op  string
	Err error
}

func (e *DocumentMutationError) Error() string {
	return fmt.Sprintf("document mutated during %s: %v", e.Op, e.Err)
}

func (e *DocumentMutationError) Unwrap() error { return e.Err }

// HTTPError represents an HTTP-related error
type HTTPError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %v", e.StatusCode, e.URL, e.Err)
}

// IsRetryable reports whether err is worth another attempt.
// Timeouts, mutation races and transport hiccups are; everything the page itself
// caused (unsupported, too short, not readable) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		unsupported *UnsupportedPageError
		minimum     *MinimumContentError
		manual      *ManualSelectionError
		timeout     *TimeoutError
		mutation    *DocumentMutationError
		passing     *MessagePassingError
	)

	switch {
	case errors.Is(err, ErrManualSelectionRequired),
		errors.As(err, &unsupported),
		errors.As(err, &minimum),
		errors.As(err, &manual):
		return false
	case errors.As(err, &timeout),
		errors.As(err, &mutation),
		errors.As(err, &passing),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
