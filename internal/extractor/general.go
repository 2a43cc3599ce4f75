package extractor

import (
	"errors"
	"fmt"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"go.uber.org/zap"
)

// General chains readability and the heuristic fallback
type General struct {
	readability *Readability
	heuristic   *Heuristic
	logger      *zap.Logger
}

// NewGeneral creates the general-purpose extractor
func NewGeneral(logger *zap.Logger) *General {
	logger = logging.OrNop(logger)
	return &General{
		readability: NewReadability(logger),
		heuristic:   NewHeuristic(logger),
		logger:      logger,
	}
}

// ExtractWithReadability runs only the readability algorithm
func (g *General) ExtractWithReadability(doc *dom.Document, minLength int) models.ExtractionResult {
	return g.readability.Extract(doc, minLength)
}

// ExtractWithHeuristics runs only the structural heuristic
func (g *General) ExtractWithHeuristics(doc *dom.Document, minLength int) models.ExtractionResult {
	return g.heuristic.Extract(doc, minLength)
}

// Extract tries readability first and falls back to heuristics. When both
// fail the result carries both causes.
func (g *General) Extract(doc *dom.Document, minLength int) models.ExtractionResult {
	r := g.ExtractWithReadability(doc, minLength)
	if r.Success {
		return r
	}
	g.logger.Debug("readability failed, trying heuristics",
		zap.String("url", doc.RawURL()),
		zap.String("reason", r.Error))

	h := g.ExtractWithHeuristics(doc, minLength)
	if h.Success {
		return h
	}
	return models.Failure(models.MethodHeuristic,
		fmt.Errorf("general extraction failed: %w", errors.Join(r.Err, h.Err)))
}
