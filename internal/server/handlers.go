package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// maxRequestBody leaves room for JSON escaping around an inline document
	maxRequestBody = 2 * dom.MaxHTMLSize

	minQueryTimeoutMs = 1000
	maxQueryTimeoutMs = 240000
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleExtract runs the pipeline over inline HTML or a fetched URL
func (s *Server) handleExtract(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var req models.ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s.extract(c, req)
}

// handleExtractQuery serves GET /v1/extract?url=...&timeout=...&render=true.
// The timeout is in milliseconds and clamped to [1s, 4m].
func (s *Server) handleExtractQuery(c *gin.Context) {
	req := models.ExtractRequest{
		URL:    c.Query("url"),
		Render: c.Query("render") == "true",
	}
	if req.URL == "" {
		s.errorResponse(c, http.StatusBadRequest, "Missing \"url\" query parameter", nil)
		return
	}
	if raw := c.Query("timeout"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			s.errorResponse(c, http.StatusBadRequest, "Invalid \"timeout\"", err)
			return
		}
		req.Options = &models.RequestOptions{TimeoutMs: min(max(ms, minQueryTimeoutMs), maxQueryTimeoutMs)}
	}
	s.extract(c, req)
}

func (s *Server) extract(c *gin.Context, req models.ExtractRequest) {
	if req.URL == "" && req.HTML == "" {
		s.errorResponse(c, http.StatusBadRequest, "Missing \"url\" or \"html\"", nil)
		return
	}
	if err := validateOptions(req.Options); err != nil {
		s.errorResponse(c, http.StatusBadRequest, "Invalid options", err)
		return
	}
	opts := s.cfg.PipelineOptions().Merge(req.Options)

	var doc *dom.Document
	if req.HTML != "" {
		loaded, err := dom.LoadString(req.HTML, req.URL)
		if err != nil {
			s.errorResponse(c, http.StatusBadRequest, "Unparseable HTML", err)
			return
		}
		doc = loaded
	} else {
		if !validURL(req.URL) {
			s.errorResponse(c, http.StatusBadRequest, "Invalid URL format", nil)
			return
		}
		loaded, err := s.loader.Load(c.Request.Context(), req.URL, req.Render)
		if err != nil {
			s.loadError(c, req.URL, err)
			return
		}
		defer loaded.Close()
		doc = loaded.Doc
	}

	result := s.pipeline.Extract(c.Request.Context(), doc, req.URL, opts)
	c.JSON(extractStatus(result), result)
}

func (s *Server) handleAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Analytics().Snapshot())
}

// handleAnalyticsReset persists the aggregate, when a store is configured, then clears it
func (s *Server) handleAnalyticsReset(c *gin.Context) {
	snap := s.pipeline.Analytics().Snapshot()
	if s.store != nil {
		if err := s.store.SaveSnapshot(c.Request.Context(), snap); err != nil {
			s.errorResponse(c, http.StatusInternalServerError, "Failed to save analytics", err)
			return
		}
	}
	s.pipeline.Analytics().Reset()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.store == nil {
		s.errorResponse(c, http.StatusNotFound, "History is disabled", nil)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.errorResponse(c, http.StatusBadRequest, "Invalid \"limit\"", err)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := s.store.History(c.Request.Context(), limit)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to read history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"extractions": rows})
}

// loadError maps document loading failures onto HTTP statuses
func (s *Server) loadError(c *gin.Context, targetURL string, err error) {
	var (
		unsupported *models.UnsupportedPageError
		httpErr     *models.HTTPError
	)
	s.logger.Info("document load failed", zap.String("url", targetURL), zap.Error(err))

	switch {
	case errors.As(err, &unsupported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "Unsupported page",
			"kind":   unsupported.Kind,
			"reason": unsupported.Reason,
			"url":    unsupported.URL,
		})
	case errors.As(err, &httpErr):
		s.errorResponse(c, http.StatusBadGateway, fmt.Sprintf("Upstream returned %d", httpErr.StatusCode), err)
	case errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(c, http.StatusGatewayTimeout, "Loading took too long", err)
	default:
		s.errorResponse(c, http.StatusBadGateway, "Failed to load page", err)
	}
}

// errorResponse writes an error body
func (s *Server) errorResponse(c *gin.Context, status int, message string, err error) {
	resp := models.ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// extractStatus is 200 for results the caller can act on, including a
// request for manual selection
func extractStatus(r models.PipelineResult) int {
	if r.Success || r.RequiresManualSelection {
		return http.StatusOK
	}
	var timeout *models.TimeoutError
	if errors.As(r.Err, &timeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusUnprocessableEntity
}

func validateOptions(o *models.RequestOptions) error {
	if o == nil {
		return nil
	}
	if o.PreferredMethod != "" && !o.PreferredMethod.Valid() {
		return fmt.Errorf("unknown preferredMethod %q", o.PreferredMethod)
	}
	for _, m := range o.DisabledMethods {
		if !m.Valid() {
			return fmt.Errorf("unknown method %q in disabledMethods", m)
		}
	}
	if o.TimeoutMs < 0 || o.SPATimeoutMs < 0 || o.MinimumContentLength < 0 {
		return errors.New("timeouts and minimumContentLength must not be negative")
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
