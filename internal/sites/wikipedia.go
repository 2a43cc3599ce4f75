package sites

import (
	"context"
	"net/url"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

const (
	wikipediaName     = "wikipedia"
	wikipediaPriority = 60
)

var wikipediaNoise = strings.Join([]string{
	".mw-editsection",
	".reference",
	".reflist",
	".references",
	".navbox",
	".infobox",
	".hatnote",
	".metadata",
	".noprint",
	".mw-empty-elt",
	".thumb",
	"figure",
	"table",
	"style",
	"#toc",
}, ", ")

// trailing sections that are lists of links rather than article text
var wikipediaTrailers = map[string]bool{
	"see_also":        true,
	"references":      true,
	"notes":           true,
	"external_links":  true,
	"further_reading": true,
	"bibliography":    true,
	"sources":         true,
}

type wikipedia struct{}

func newWikipedia() *wikipedia { return &wikipedia{} }

func isWikipedia(u *url.URL) bool {
	return hostIs(u, "wikipedia.org") && strings.HasPrefix(u.Path, "/wiki/")
}

func (w *wikipedia) Name() string              { return wikipediaName }
func (w *wikipedia) Priority() int             { return wikipediaPriority }
func (w *wikipedia) CanHandle(u *url.URL) bool { return isWikipedia(u) }

// Extract returns the article prose up to the first reference-style section
func (w *wikipedia) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	root := nodeOf(doc.Selection)
	if root == nil {
		return nil, nil
	}
	content := htmlquery.FindOne(root, `//div[@id="mw-content-text"]//div[contains(@class,"mw-parser-output")]`)
	if content == nil {
		return nil, nil
	}

	body := goquery.NewDocumentFromNode(content).Selection
	body.Find(wikipediaNoise).Remove()
	truncateAtTrailer(body)

	text := dom.StructuredText(content)
	if text == "" {
		return nil, nil
	}

	title := ""
	if h := htmlquery.FindOne(root, `//h1[@id="firstHeading"]`); h != nil {
		title = dom.CollapseWhitespace(htmlquery.InnerText(h))
	}
	if title == "" {
		title = dom.DocumentTitle(doc)
	}

	meta := map[string]any{
		"site":     wikipediaName,
		"language": strings.SplitN(u.Hostname(), ".", 2)[0],
	}
	if lastmod := htmlquery.FindOne(root, `//li[@id="footer-info-lastmod"]`); lastmod != nil {
		meta["lastModified"] = dom.CollapseWhitespace(htmlquery.InnerText(lastmod))
	}

	return &ExtractedContent{
		Title:    title,
		Text:     text,
		HTML:     outerHTML(body),
		Metadata: meta,
	}, nil
}

// truncateAtTrailer removes the first trailer heading and everything after it
func truncateAtTrailer(body *goquery.Selection) {
	var cut *goquery.Selection
	body.Children().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id := headingID(s)
		if id != "" && wikipediaTrailers[strings.ToLower(id)] {
			cut = s
			return false
		}
		return true
	})
	if cut == nil {
		return
	}
	cut.NextAll().Remove()
	cut.Remove()
}

// headingID handles both bare h2 elements and the newer div.mw-heading wrapper
func headingID(s *goquery.Selection) string {
	if s.Is("h2") {
		if id, ok := s.Attr("id"); ok {
			return id
		}
		id, _ := s.Find(".mw-headline").Attr("id")
		return id
	}
	if s.HasClass("mw-heading") || s.HasClass("mw-heading2") {
		id, _ := s.Find("h2").Attr("id")
		return id
	}
	return ""
}
