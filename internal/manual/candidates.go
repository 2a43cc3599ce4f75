package manual

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MinCandidateText is the visible text floor for a selectable region
const MinCandidateText = 25

// Priority orders candidates for keyboard focus
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// MarshalText renders the priority by name
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// candidateSelector lists the elements that can hold readable content
const candidateSelector = "article, main, section, [role='main'], div, p, blockquote, pre, ul, ol, table, figure, aside, nav, header, footer"

var (
	highHints = []string{"content", "article", "post", "entry", "story", "main", "body-text"}
	lowHints  = []string{"sidebar", "nav", "menu", "footer", "header", "comment", "related", "share", "social", "advert", "promo", "widget"}
)

// Candidate is a selectable region found when the session activated
type Candidate struct {
	Index    int      `json:"index"`
	Tag      string   `json:"tag"`
	Priority Priority `json:"priority"`
	Length   int      `json:"length"`
	Preview  string   `json:"preview"`
	Box      Rect     `json:"box"`
	Removed  bool     `json:"removed,omitempty"`

	node *html.Node
	path string
}

// scanCandidates finds content-like elements under root with at least floor characters
func scanCandidates(root *goquery.Selection, floor int, skip map[*html.Node]bool) []*Candidate {
	var found []*Candidate
	root.Find(candidateSelector).AddBackFiltered(candidateSelector).Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if skip[n] {
			return
		}
		text := collapse(dom.VisibleText(n))
		length := utf8.RuneCountInString(text)
		if length < floor {
			return
		}
		found = append(found, &Candidate{
			Tag:      n.Data,
			Priority: priorityOf(s),
			Length:   length,
			Preview:  truncate(text, 80),
			node:     n,
		})
	})
	return found
}

func priorityOf(s *goquery.Selection) Priority {
	if s.Is("article, main, [role='main']") {
		return PriorityHigh
	}
	if s.Is("nav, aside, footer, header") {
		return PriorityLow
	}
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	hint := strings.ToLower(class + " " + id)
	for _, h := range lowHints {
		if strings.Contains(hint, h) {
			return PriorityLow
		}
	}
	for _, h := range highHints {
		if strings.Contains(hint, h) {
			return PriorityHigh
		}
	}
	return PriorityNormal
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

// structuralPath names an attached node by the tag and element index of each
// ancestor, so a re-rendered region can be recognised at the same place
func structuralPath(n *html.Node) string {
	var parts []string
	for ; n != nil && n.Type == html.ElementNode; n = n.Parent {
		i := 0
		for p := n.PrevSibling; p != nil; p = p.PrevSibling {
			if p.Type == html.ElementNode {
				i++
			}
		}
		parts = append(parts, n.Data+"["+strconv.Itoa(i)+"]")
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, "/")
}
