package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	headingTag = regexp.MustCompile(`(?i)<h[1-6][\s>]`)
	anchorTag  = regexp.MustCompile(`(?i)<a[\s>]`)
)

// ContentQuality represents quality metrics for extracted content
type ContentQuality struct {
	Score              int     `json:"score"`              // 0-100 confidence score
	TextToHTMLRatio    float64 `json:"textToHtmlRatio"`    // Higher is better
	ParagraphCount     int     `json:"paragraphCount"`     // Number of paragraphs
	AvgParagraphLength int     `json:"avgParagraphLength"` // Average characters per paragraph
	HasHeaders         bool    `json:"hasHeaders"`
	LinkDensity        float64 `json:"linkDensity"` // Links per 1000 chars (lower is better)
	WordCount          int     `json:"wordCount"`
}

// Map renders the metrics for result metadata
func (q ContentQuality) Map() map[string]any {
	return map[string]any{
		"score":              q.Score,
		"textToHtmlRatio":    q.TextToHTMLRatio,
		"paragraphCount":     q.ParagraphCount,
		"avgParagraphLength": q.AvgParagraphLength,
		"hasHeaders":         q.HasHeaders,
		"linkDensity":        q.LinkDensity,
	}
}

// ScoreContentQuality analyzes extracted text and the markup it came from
func ScoreContentQuality(content, contentHTML string) ContentQuality {
	if content == "" {
		return ContentQuality{Score: 0}
	}

	wordCount, paragraphCount, avgParagraphLength := CalculateContentMetrics(content)
	charCount := utf8.RuneCountInString(content)

	hasHeaders := headingTag.MatchString(contentHTML)

	textToHTMLRatio := 0.0
	if len(contentHTML) > 0 {
		textToHTMLRatio = float64(len(content)) / float64(len(contentHTML))
	}

	linkCount := len(anchorTag.FindAllStringIndex(contentHTML, -1))
	if contentHTML == "" {
		linkCount = strings.Count(content, "http://") + strings.Count(content, "https://")
	}
	linkDensity := float64(linkCount) / float64(charCount) * 1000

	score := calculateOverallScore(wordCount, paragraphCount, avgParagraphLength,
		hasHeaders, textToHTMLRatio, linkDensity)

	return ContentQuality{
		Score:              score,
		TextToHTMLRatio:    textToHTMLRatio,
		ParagraphCount:     paragraphCount,
		AvgParagraphLength: avgParagraphLength,
		HasHeaders:         hasHeaders,
		LinkDensity:        linkDensity,
		WordCount:          wordCount,
	}
}

// calculateOverallScore computes a 0-100 quality score
func calculateOverallScore(wordCount, paragraphCount, avgParagraphLength int,
	hasHeaders bool, textToHTMLRatio, linkDensity float64) int {

	score := 0

	// Word count (0-25)
	switch {
	case wordCount >= 500:
		score += 25
	case wordCount >= 200:
		score += 20
	case wordCount >= 100:
		score += 15
	case wordCount >= 50:
		score += 10
	}

	// Paragraph count (0-20)
	switch {
	case paragraphCount >= 5:
		score += 20
	case paragraphCount >= 3:
		score += 15
	case paragraphCount >= 2:
		score += 10
	case paragraphCount >= 1:
		score += 5
	}

	// Average paragraph length (0-20)
	switch {
	case avgParagraphLength >= 200:
		score += 20
	case avgParagraphLength >= 100:
		score += 15
	case avgParagraphLength >= 50:
		score += 10
	case avgParagraphLength >= 20:
		score += 5
	}

	if hasHeaders {
		score += 15
	}

	// Text-to-HTML ratio (0-10); markup-free text gets the full share
	switch {
	case textToHTMLRatio == 0 || textToHTMLRatio >= 0.3:
		score += 10
	case textToHTMLRatio >= 0.2:
		score += 7
	case textToHTMLRatio >= 0.1:
		score += 5
	}

	// Link density (+10 to -10)
	switch {
	case linkDensity <= 5:
		score += 10
	case linkDensity <= 10:
		score += 5
	case linkDensity > 20:
		score -= 10
	}

	return max(0, min(score, 100))
}

// CalculateContentMetrics counts words and blank-line separated paragraphs
func CalculateContentMetrics(content string) (wordCount, paragraphCount, avgParagraphLength int) {
	if content == "" {
		return 0, 0, 0
	}

	wordCount = len(strings.Fields(content))

	totalChars := 0
	for _, block := range strings.Split(content, DoubleNewline) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphCount++
		totalChars += utf8.RuneCountInString(block)
	}
	if paragraphCount > 0 {
		avgParagraphLength = totalChars / paragraphCount
	}
	return wordCount, paragraphCount, avgParagraphLength
}

// CleanWhitespace collapses runs of blank lines and double spaces outside code fences
func CleanWhitespace(text string) string {
	if text == "" {
		return ""
	}

	parts := strings.Split(text, "```")
	for i := 0; i < len(parts); i += 2 {
		p := parts[i]
		for strings.Contains(p, TripleNewline) {
			p = strings.ReplaceAll(p, TripleNewline, DoubleNewline)
		}
		for strings.Contains(p, DoubleSpace) {
			p = strings.ReplaceAll(p, DoubleSpace, SingleSpace)
		}
		parts[i] = p
	}
	return strings.TrimSpace(strings.Join(parts, "```"))
}
