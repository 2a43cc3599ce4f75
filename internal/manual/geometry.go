package manual

import (
	"math"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Point is a position in page coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box in page coordinates
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// RectFromPoints returns the box spanned by two drag corners
func RectFromPoints(a, b Point) Rect {
	return Rect{
		X: math.Min(a.X, b.X),
		Y: math.Min(a.Y, b.Y),
		W: math.Abs(a.X - b.X),
		H: math.Abs(a.Y - b.Y),
	}
}

// Empty reports whether r has no area
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Intersects reports whether r and o overlap. Touching edges do not count.
func (r Rect) Intersects(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Geometry computes a bounding box for each candidate node
type Geometry interface {
	Layout(root *html.Node, nodes []*html.Node) []Rect
}

// FlowLayout estimates boxes without a renderer: every block is full width and
// text advances the cursor by whole lines
type FlowLayout struct {
	Width        float64
	LineHeight   float64
	CharsPerLine int
}

// DefaultFlowLayout approximates a 1024px wide reading column
func DefaultFlowLayout() FlowLayout {
	return FlowLayout{Width: 1024, LineHeight: 24, CharsPerLine: 100}
}

// Layout walks root in document order and records the vertical span of each node
func (f FlowLayout) Layout(root *html.Node, nodes []*html.Node) []Rect {
	index := make(map[*html.Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	rects := make([]Rect, len(nodes))
	perLine := f.CharsPerLine
	if perLine <= 0 {
		perLine = 100
	}

	y := 0.0
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && skipLayout[n.Data] {
			return
		}
		i, tracked := index[n]
		start := y
		if n.Type == html.TextNode {
			if chars := utf8.RuneCountInString(collapse(n.Data)); chars > 0 {
				lines := math.Ceil(float64(chars) / float64(perLine))
				y += lines * f.LineHeight
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
		if tracked {
			rects[i] = Rect{X: 0, Y: start, W: f.Width, H: y - start}
		}
	}
	visit(root)
	return rects
}

var skipLayout = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "template": true, "svg": true,
}
