package sites

import (
	"context"
	"net/url"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
)

const (
	docsName     = "docs"
	docsPriority = 70
)

// docPortals maps known documentation hosts to the platform that renders them
var docPortals = map[string]string{
	"developer.mozilla.org": "mdn",
	"readthedocs.io":        "readthedocs",
	"readthedocs.org":       "readthedocs",
	"pkg.go.dev":            "godoc",
	"docs.python.org":       "sphinx",
	"docusaurus.io":         "docusaurus",
}

// docContainers are tried in order; platform specific layouts come first
var docContainers = []string{
	`article.main-page-content`,
	`.rst-content [itemprop="articleBody"]`,
	`div[role="main"] .document`,
	`div.body[role="main"]`,
	`.theme-doc-markdown`,
	`.Documentation-content`,
	`.UnitDoc`,
	`main article`,
	`article`,
	`main`,
	`[role="main"]`,
}

var docNoise = strings.Join([]string{
	"nav",
	".headerlink",
	".toc",
	".table-of-contents",
	".theme-doc-toc-mobile",
	".theme-doc-breadcrumbs",
	".pagination-nav",
	".breadcrumbs",
	".wy-breadcrumbs",
	".prev-next-area",
	".metadata",
	".sidebar",
	"footer",
	"button",
}, ", ")

type docs struct{}

func newDocs() *docs { return &docs{} }

func isDocsPortal(u *url.URL) bool {
	return docPlatform(u) != ""
}

func docPlatform(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	for domain, platform := range docPortals {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return platform
		}
	}
	if strings.HasPrefix(host, "docs.") || strings.HasPrefix(host, "documentation.") {
		return "generic"
	}
	return ""
}

func (d *docs) Name() string              { return docsName }
func (d *docs) Priority() int             { return docsPriority }
func (d *docs) CanHandle(u *url.URL) bool { return isDocsPortal(u) }

// Extract returns the article body of a documentation page with navigation chrome removed
func (d *docs) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	body := first(doc.Selection, docContainers...)
	if body.Length() == 0 {
		return nil, nil
	}
	body.Find(docNoise).Remove()

	text := dom.StructuredText(body.Get(0))
	if text == "" {
		return nil, nil
	}

	title := firstText(body, "h1")
	if title == "" {
		title = dom.DocumentTitle(doc)
	}

	meta := map[string]any{
		"site":     docsName,
		"platform": docPlatform(u),
	}
	var headings []string
	body.Find("h2").Each(func(_ int, h *goquery.Selection) {
		if t := dom.CollapseWhitespace(h.Text()); t != "" {
			headings = append(headings, t)
		}
	})
	if len(headings) > 0 {
		meta["sections"] = headings
	}
	if crumbs := doc.Find(`.breadcrumbs li, .theme-doc-breadcrumbs li, .wy-breadcrumbs li`); crumbs.Length() > 0 {
		var trail []string
		crumbs.Each(func(_ int, c *goquery.Selection) {
			if t := dom.CollapseWhitespace(c.Text()); t != "" {
				trail = append(trail, t)
			}
		})
		meta["breadcrumbs"] = trail
	}

	return &ExtractedContent{
		Title:    title,
		Text:     text,
		HTML:     outerHTML(body),
		Metadata: meta,
	}, nil
}
