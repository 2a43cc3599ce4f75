package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"extract-main-content/internal/config"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/monitoring"
	"extract-main-content/internal/pipeline"
	"extract-main-content/internal/scraper"
	"extract-main-content/internal/server"
	"extract-main-content/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Cloud Run and most PaaS hosts announce the port this way
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := monitoring.NewMetrics()
	opts := []pipeline.Option{pipeline.FromConfig(cfg), pipeline.WithRecorder(metrics)}

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, pipeline.WithHistory(st))
		logger.Info("extraction history enabled", zap.String("path", st.Path()))
	}
	p := pipeline.New(logger, opts...)

	srv := server.New(server.Options{
		Config:   cfg,
		Pipeline: p,
		Loader:   scraper.NewLoader(cfg.Scrape, logger),
		Metrics:  metrics,
		Store:    st,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	if st != nil {
		if err := st.SaveSnapshot(shutdownCtx, p.Analytics().Snapshot()); err != nil {
			logger.Warn("failed to save analytics snapshot", zap.Error(err))
		}
	}
	if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}

// loadConfig reads the environment, overlaid by EXTRACT_CONFIG_FILE when set
func loadConfig() (*config.Config, error) {
	if path := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
