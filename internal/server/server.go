// Package server exposes the extraction pipeline over HTTP and drives manual
// selection sessions over a websocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"extract-main-content/internal/config"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/monitoring"
	"extract-main-content/internal/pipeline"
	"extract-main-content/internal/scraper"
	"extract-main-content/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Loader turns a URL into a document ready for extraction
type Loader interface {
	Load(ctx context.Context, targetURL string, render bool) (*scraper.Loaded, error)
}

// Options wires the server's dependencies. Only Config is required; the rest
// default to instances built from it. A nil Store disables history.
type Options struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Loader   Loader
	Metrics  *monitoring.Metrics
	Store    *store.Store
	Logger   *zap.Logger
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	loader   Loader
	metrics  *monitoring.Metrics
	store    *store.Store
	logger   *zap.Logger
}

// New creates a server and registers its routes
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrNop(opts.Logger)

	s := &Server{
		cfg:      cfg,
		pipeline: opts.Pipeline,
		loader:   opts.Loader,
		metrics:  opts.Metrics,
		store:    opts.Store,
		logger:   logger.Named("server"),
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	if s.pipeline == nil {
		s.pipeline = pipeline.New(logger, pipeline.FromConfig(cfg), pipeline.WithRecorder(s.metrics))
	}
	if s.loader == nil {
		s.loader = scraper.NewLoader(cfg.Scrape, logger)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger, s.metrics), corsMiddleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(rateLimit(cfg.RateLimit, s.metrics))
	}
	v1.POST("/extract", s.handleExtract)
	v1.GET("/extract", s.handleExtractQuery)
	v1.GET("/analytics", s.handleAnalytics)
	v1.POST("/analytics/reset", s.handleAnalyticsReset)
	v1.GET("/history", s.handleHistory)
	v1.GET("/selection", s.handleSelection)

	s.router = router
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
