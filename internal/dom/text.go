package dom

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// paragraph-level elements get a blank line around them, other blocks a single newline
var paragraphTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "article": true, "main": true, "ul": true, "ol": true,
	"table": true, "figure": true, "dl": true, "details": true, "hr": true, "header": true, "footer": true,
}

var lineTags = map[string]bool{
	"div": true, "li": true, "tr": true, "dt": true, "dd": true, "figcaption": true,
	"address": true, "summary": true, "aside": true, "nav": true, "form": true, "fieldset": true,
	"caption": true, "thead": true, "tbody": true, "tfoot": true,
}

// StructuredText linearizes n: text nodes are collected with whitespace
// collapsed, block boundaries and <br> become newlines, and <pre> blocks are
// kept verbatim inside ``` fences.
func StructuredText(n *html.Node) string {
	if n == nil {
		return ""
	}
	w := &textWriter{}
	w.walk(n)
	return w.String()
}

// SelectionText is StructuredText over every node of a selection
func SelectionText(s *goquery.Selection) string {
	w := &textWriter{}
	for _, n := range s.Nodes {
		w.walk(n)
		w.newline(2)
	}
	return w.String()
}

// CollapseWhitespace joins all whitespace runs into single spaces
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type textWriter struct {
	buf          []byte
	pendingSpace bool
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		if invisible[n.Data] {
			return
		}
		switch n.Data {
		case "br":
			w.newline(1)
			return
		case "pre":
			w.fence(n)
			return
		case "td", "th":
			w.pendingSpace = true
		}
	}

	gap := 0
	if n.Type == html.ElementNode {
		if paragraphTags[n.Data] {
			gap = 2
		} else if lineTags[n.Data] {
			gap = 1
		}
	}
	if gap > 0 {
		w.newline(gap)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if gap > 0 {
		w.newline(gap)
	}
}

func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	if unicode.IsSpace(rune(s[0])) {
		w.pendingSpace = true
	}
	fields := strings.Fields(s)
	for i, f := range fields {
		if (i > 0 || w.pendingSpace) && len(w.buf) > 0 && w.buf[len(w.buf)-1] != '\n' {
			w.buf = append(w.buf, ' ')
		}
		w.buf = append(w.buf, f...)
		w.pendingSpace = false
	}
	if len(fields) == 0 || unicode.IsSpace(rune(s[len(s)-1])) {
		w.pendingSpace = true
	}
}

func (w *textWriter) newline(n int) {
	w.pendingSpace = false
	for len(w.buf) > 0 && w.buf[len(w.buf)-1] == ' ' {
		w.buf = w.buf[:len(w.buf)-1]
	}
	if len(w.buf) == 0 {
		return
	}
	have := 0
	for i := len(w.buf) - 1; i >= 0 && w.buf[i] == '\n'; i-- {
		have++
	}
	for ; have < n; have++ {
		w.buf = append(w.buf, '\n')
	}
}

func (w *textWriter) fence(pre *html.Node) {
	code := strings.Trim(rawText(pre), "\n")
	if strings.TrimSpace(code) == "" {
		return
	}
	w.newline(2)
	w.buf = append(w.buf, "```"+codeLanguage(pre)+"\n"...)
	w.buf = append(w.buf, code...)
	w.buf = append(w.buf, "\n```"...)
	w.newline(2)
}

func (w *textWriter) String() string {
	return strings.TrimSpace(string(w.buf))
}

// rawText concatenates text below n without collapsing whitespace
func rawText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func codeLanguage(pre *html.Node) string {
	candidates := []*html.Node{pre}
	for c := pre.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			candidates = append(candidates, c)
		}
	}
	for _, n := range candidates {
		if lang := attrOr(n, "data-lang"); lang != "" {
			return lang
		}
		for _, class := range strings.Fields(attrOr(n, "class")) {
			for _, prefix := range []string{"language-", "lang-", "highlight-source-"} {
				if strings.HasPrefix(class, prefix) {
					return strings.TrimPrefix(class, prefix)
				}
			}
		}
	}
	return ""
}
