package dom

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// MaxHTMLSize limits HTML input to 10MB to prevent memory exhaustion
const MaxHTMLSize = 10 * 1024 * 1024

// Load parses r into a Document, converting it to UTF-8 first. contentType is
// the response Content-Type if known; a charset in it wins over detection.
func Load(r io.Reader, contentType, pageURL string) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxHTMLSize))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var reader io.Reader = bytes.NewReader(data)
	if utf8Reader, err := charset.NewReader(bytes.NewReader(data), contentTypeFor(data, contentType)); err == nil {
		reader = utf8Reader
	}

	root, err := html.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return New(root, pageURL), nil
}

// LoadString parses an HTML string into a Document.
func LoadString(markup, pageURL string) (*Document, error) {
	return Load(strings.NewReader(markup), "text/html; charset=utf-8", pageURL)
}

// DetectCharset guesses the encoding of raw HTML bytes.
func DetectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result.Confidence < 30 {
		return "windows-1252"
	}
	return strings.ToLower(result.Charset)
}

func contentTypeFor(data []byte, contentType string) string {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
			return contentType
		}
	}
	return "text/html; charset=" + DetectCharset(data)
}
