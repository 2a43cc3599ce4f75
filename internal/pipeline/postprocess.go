package pipeline

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"extract-main-content/internal/extractor"
	"extract-main-content/internal/models"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pemistahl/lingua-go"
	"go.uber.org/zap"
)

// maxLanguageSample caps the text handed to language detection
const maxLanguageSample = 2000

// postProcess enriches a successful result: sanitized HTML, quality metrics,
// lead image, and optional markdown and language
func (p *Pipeline) postProcess(c *call, r models.ExtractionResult, framework *models.FrameworkInfo) models.PipelineResult {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		c.addStage(StagePostProcessing, d)
		p.recorder.ObserveStage(StagePostProcessing, d)
	}()

	content := *r.Content
	meta := make(map[string]any, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		meta[k] = v
	}

	if cleaned := extractor.CleanWhitespace(content.Text); utf8.RuneCountInString(cleaned) >= c.opts.MinLength() {
		content.Text = cleaned
	}
	if content.HTML != "" {
		content.HTML = p.sanitizer.Sanitize(content.HTML)
	}

	quality := extractor.ScoreContentQuality(content.Text, content.HTML)
	meta["quality"] = quality.Map()
	meta["wordCount"] = quality.WordCount
	meta["length"] = utf8.RuneCountInString(content.Text)

	if _, ok := meta["image"]; !ok {
		if snap, err := c.doc.SnapshotDocument(); err == nil {
			if img := p.images.LeadImage(snap, c.url); img != "" {
				meta["image"] = img
			}
		}
	}

	if c.opts.IncludeMarkdown && content.HTML != "" {
		md, err := htmltomarkdown.ConvertString(content.HTML)
		if err != nil {
			c.log.Debug("markdown conversion failed", zap.Error(err))
		} else {
			content.Markdown = strings.TrimSpace(md)
		}
	}

	if c.opts.DetectLanguage {
		if lang, ok := p.languages.detect(content.Text); ok {
			meta["detectedLanguage"] = lang
		}
	}

	r.Content = &content
	r.Metadata = meta
	return models.PipelineResult{ExtractionResult: r, Framework: framework}
}

// languageDetector builds its lingua models on first use
type languageDetector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

var detectableLanguages = []lingua.Language{
	lingua.English,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Russian,
	lingua.Japanese,
	lingua.Chinese,
}

// detect returns the ISO 639-1 code of the text's language
func (l *languageDetector) detect(text string) (string, bool) {
	l.once.Do(func() {
		l.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectableLanguages...).
			Build()
	})

	if utf8.RuneCountInString(text) > maxLanguageSample {
		text = string([]rune(text)[:maxLanguageSample])
	}
	lang, ok := l.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
