// Package extractor implements the general-purpose extraction methods used when
// no site extractor produced content: the readability algorithm and a
// structural heuristic fallback.
package extractor

import (
	"html"
	"net/url"
	"time"
	"unicode/utf8"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Readability runs the readability algorithm on a private copy of the document
type Readability struct {
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
	logger *zap.Logger
}

// NewReadability creates a readability extractor
func NewReadability(logger *zap.Logger) *Readability {
	return &Readability{
		ugc:    bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
		logger: logging.OrNop(logger),
	}
}

// Extract parses a clone of doc. The live document is never touched.
func (r *Readability) Extract(doc *dom.Document, minLength int) models.ExtractionResult {
	if minLength <= 0 {
		minLength = models.MinContentLength
	}

	root, err := doc.Snapshot()
	if err != nil {
		return models.Failure(models.MethodReadability, &models.ReadabilityError{Reason: "snapshot", Err: err})
	}

	parser := readability.NewParser()
	if !parser.CheckDocument(root) {
		return models.Failure(models.MethodReadability, &models.ReadabilityError{Reason: models.ReasonNotReadable})
	}

	pageURL := doc.URL()
	if pageURL == nil {
		pageURL = &url.URL{}
	}
	article, err := parser.ParseDocument(root, pageURL)
	if err != nil {
		return models.Failure(models.MethodReadability, &models.ReadabilityError{Reason: "parse", Err: err})
	}
	if article.Node == nil {
		return models.Failure(models.MethodReadability, &models.ReadabilityError{Reason: models.ReasonNotReadable})
	}

	text := dom.StructuredText(article.Node)
	if n := utf8.RuneCountInString(text); n < minLength {
		r.logger.Debug("readability content below minimum",
			zap.String("url", doc.RawURL()),
			zap.Int("length", n),
			zap.Int("required", minLength))
		return models.Failure(models.MethodReadability, &models.MinimumContentError{Actual: n, Required: minLength})
	}

	title := html.UnescapeString(r.strict.Sanitize(article.Title))
	if title == "" {
		if err := doc.Read(func(q *goquery.Document) { title = dom.DocumentTitle(q) }); err != nil {
			r.logger.Debug("title fallback skipped", zap.Error(err))
		}
	}

	return models.ExtractionResult{
		Success: true,
		Method:  models.MethodReadability,
		Content: &models.Content{
			Text:  text,
			Title: dom.CollapseWhitespace(title),
			HTML:  r.ugc.Sanitize(article.Content),
		},
		Metadata: articleMetadata(article, text),
	}
}

func articleMetadata(article readability.Article, text string) map[string]any {
	meta := map[string]any{
		"length": utf8.RuneCountInString(text),
	}
	set := func(key, value string) {
		if value != "" {
			meta[key] = value
		}
	}
	set("byline", article.Byline)
	set("excerpt", dom.CollapseWhitespace(article.Excerpt))
	set("siteName", article.SiteName)
	set("language", article.Language)
	set("image", article.Image)
	if article.PublishedTime != nil {
		meta["publishedTime"] = article.PublishedTime.UTC().Format(time.RFC3339)
	}
	return meta
}
