package sites

import (
	"net/url"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// hostIs reports whether u's host is one of domains or a subdomain of one
func hostIs(u *url.URL, domains ...string) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// first returns the first selector with a match, or an empty selection
func first(doc *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return doc.Slice(0, 0)
}

// firstText returns the collapsed text of the first matching selector
func firstText(doc *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := dom.CollapseWhitespace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func outerHTML(s *goquery.Selection) string {
	h, err := goquery.OuterHtml(s)
	if err != nil {
		return ""
	}
	return h
}

// section joins non-blank parts with blank lines. Leading indentation of a
// part is kept.
func section(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, strings.TrimRight(strings.TrimLeft(p, "\r\n"), " \t\r\n"))
	}
	return strings.Join(kept, "\n\n")
}

// nodeOf returns the first node of s, nil when s is empty
func nodeOf(s *goquery.Selection) *html.Node {
	if s == nil || s.Length() == 0 {
		return nil
	}
	return s.Get(0)
}
