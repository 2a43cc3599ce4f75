package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Meta tag properties
const (
	OGTitle     = "og:title"
	OGSiteName  = "og:site_name"
	OGImage     = "og:image"
	OGLocale    = "og:locale"
	TwitterName = "twitter:title"
	MetaDesc    = "description"
	MetaAuthor  = "author"
)

// FindMetaTag returns the content of the first meta tag whose property or name matches
func FindMetaTag(doc *goquery.Document, property, name string) string {
	var value string

	doc.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		content, ok := s.Attr("content")
		if !ok {
			return true
		}
		if property != "" {
			if prop, exists := s.Attr("property"); exists && prop == property {
				value = strings.TrimSpace(content)
				return value == ""
			}
		}
		if name != "" {
			if n, exists := s.Attr("name"); exists && n == name {
				value = strings.TrimSpace(content)
				return value == ""
			}
		}
		return true
	})

	return value
}

// DocumentTitle picks a page title: og:title, twitter:title, first h1, then <title>
func DocumentTitle(doc *goquery.Document) string {
	if t := FindMetaTag(doc, OGTitle, ""); t != "" {
		return CollapseWhitespace(t)
	}
	if t := FindMetaTag(doc, "", TwitterName); t != "" {
		return CollapseWhitespace(t)
	}
	if t := CollapseWhitespace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return CollapseWhitespace(doc.Find("title").First().Text())
}
