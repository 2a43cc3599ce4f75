package extractor

import (
	"math"
	"strings"
	"unicode/utf8"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Heuristic picks the main content container by selector and, failing that,
// by scoring every block candidate
type Heuristic struct {
	ugc    *bluemonday.Policy
	logger *zap.Logger
}

// NewHeuristic creates a heuristic extractor
func NewHeuristic(logger *zap.Logger) *Heuristic {
	return &Heuristic{
		ugc:    bluemonday.UGCPolicy(),
		logger: logging.OrNop(logger),
	}
}

// Extract works on a snapshot of doc with page chrome stripped
func (h *Heuristic) Extract(doc *dom.Document, minLength int) models.ExtractionResult {
	if minLength <= 0 {
		minLength = models.MinContentLength
	}

	q, err := doc.SnapshotDocument()
	if err != nil {
		return models.Failure(models.MethodHeuristic, err)
	}
	title := dom.DocumentTitle(q)

	RemoveBoilerplate(q.Selection)

	meta := map[string]any{}
	chosen, selector := FindContentContainer(q, minLength)
	if chosen != nil {
		meta["strategy"] = "selector"
		meta["selector"] = selector
	} else {
		var score float64
		chosen, score = BestCandidate(q)
		if chosen == nil {
			return models.Failure(models.MethodHeuristic, &models.MinimumContentError{Actual: 0, Required: minLength})
		}
		meta["strategy"] = "score"
		meta["score"] = math.Round(score*100) / 100
		meta["tag"] = goquery.NodeName(chosen)
	}

	text := dom.StructuredText(chosen.Get(0))
	n := utf8.RuneCountInString(text)
	if n < minLength {
		h.logger.Debug("heuristic content below minimum",
			zap.String("url", doc.RawURL()),
			zap.Any("strategy", meta["strategy"]),
			zap.Int("length", n))
		return models.Failure(models.MethodHeuristic, &models.MinimumContentError{Actual: n, Required: minLength})
	}
	meta["length"] = n

	markup, _ := goquery.OuterHtml(chosen)
	return models.ExtractionResult{
		Success: true,
		Method:  models.MethodHeuristic,
		Content: &models.Content{
			Text:  text,
			Title: title,
			HTML:  h.ugc.Sanitize(markup),
		},
		Metadata: meta,
	}
}

// RemoveBoilerplate strips non-content tags and elements whose class or id
// marks them as page chrome. Text-heavy elements with few links survive.
func RemoveBoilerplate(root *goquery.Selection) {
	root.Find(NonContentTags).Remove()
	root.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		if s.Is("html, body, main, article") {
			return
		}
		if !isBoilerplate(s) || isProtected(s) {
			return
		}
		s.Remove()
	})
}

func isBoilerplate(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	hint := strings.ToLower(class + " " + id)
	for _, pattern := range BoilerplatePatterns {
		if strings.Contains(hint, pattern) {
			return true
		}
	}
	return false
}

func isProtected(s *goquery.Selection) bool {
	textLen := visibleLength(s)
	if textLen < ProtectedMinText {
		return false
	}
	linkLen := visibleLength(s.Find(LinkElement))
	return float64(linkLen) < ProtectedLinkRatio*float64(textLen)
}

// FindContentContainer returns the longest match of the first content selector
// whose best match reaches minLength
func FindContentContainer(doc *goquery.Document, minLength int) (*goquery.Selection, string) {
	for _, selector := range ContentSelectors {
		var best *goquery.Selection
		bestLen := 0
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if n := visibleLength(s); n > bestLen {
				best, bestLen = s, n
			}
		})
		if best != nil && bestLen >= minLength {
			return best, selector
		}
	}
	return nil, ""
}

// BestCandidate scores every block candidate and returns the winner.
// Ties go to the later, more deeply nested element.
func BestCandidate(doc *goquery.Document) (*goquery.Selection, float64) {
	var best *goquery.Selection
	bestScore := math.Inf(-1)
	doc.Find(CandidateTags).Each(func(_ int, s *goquery.Selection) {
		score := ScoreCandidate(s)
		if score >= bestScore {
			best, bestScore = s, score
		}
	})
	if best == nil || visibleLength(best) == 0 {
		return nil, 0
	}
	return best, bestScore
}

// ScoreCandidate rewards long text, paragraphs and text density, and
// penalizes links:
//
//	min(len/100, 100) + 10*paragraphs - 5*links + 100*min(len/(tags*50), 1)
func ScoreCandidate(s *goquery.Selection) float64 {
	textLen := float64(visibleLength(s))
	paragraphs := float64(s.Find(ParagraphElement).Length())
	links := float64(s.Find(LinkElement).Length())
	tags := math.Max(float64(s.Find("*").Length()), 1)

	density := math.Min(textLen/(tags*densityCharsPerTag), 1)
	return math.Min(textLen/scoreLengthDivisor, scoreLengthCap) +
		scoreParagraphBonus*paragraphs -
		scoreLinkPenalty*links +
		scoreDensityWeight*density
}

func visibleLength(s *goquery.Selection) int {
	total := 0
	for _, n := range s.Nodes {
		total += utf8.RuneCountInString(dom.CollapseWhitespace(dom.VisibleText(n)))
	}
	return total
}
