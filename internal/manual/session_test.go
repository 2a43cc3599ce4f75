package manual

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

var (
	paragraphA = strings.TrimSpace(strings.Repeat("Alpha paragraph sentence. ", 17))
	paragraphB = strings.TrimSpace(strings.Repeat("Bravo paragraph sentence. ", 17))
)

func selectionPage() string {
	return `<html><head><title>Field notes</title></head><body>
<article><p id="a">` + paragraphA + `</p><p id="b">` + paragraphB + `</p></article>
<nav><a href="/">Home</a> <a href="/archive">Archive of older posts</a></nav>
</body></html>`
}

func activeSession(t *testing.T, opts ...Option) (*Session, *dom.Document) {
	t.Helper()
	doc, err := dom.LoadString(selectionPage(), "https://example.com/notes")
	require.NoError(t, err)
	s := NewSession(nil, opts...)
	require.NoError(t, s.Activate(context.Background(), doc))
	t.Cleanup(func() { _ = s.Cancel() })
	return s, doc
}

func indexOf(t *testing.T, s *Session, id string) int {
	t.Helper()
	for i, c := range s.candidates {
		if dom.Attr(c.node, "id") == id {
			return i
		}
	}
	t.Fatalf("no candidate with id %q", id)
	return -1
}

func indexOfTag(t *testing.T, s *Session, tag string) int {
	t.Helper()
	for _, c := range s.Candidates() {
		if c.Tag == tag {
			return c.Index
		}
	}
	t.Fatalf("no candidate with tag %q", tag)
	return -1
}

func TestMultiSelectConfirm(t *testing.T) {
	s, doc := activeSession(t)
	a, b := indexOf(t, s, "a"), indexOf(t, s, "b")

	require.NoError(t, s.Click(a, Modifiers{}))
	require.NoError(t, s.Click(b, Modifiers{Multi: true}))
	assert.Equal(t, []int{a, b}, s.Selected())

	preview := s.Preview()
	assert.Equal(t, 2, preview.Count)
	assert.True(t, preview.CanConfirm)
	assert.Empty(t, preview.Warning)

	result, err := s.Confirm()
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.MethodManual, result.Method)
	assert.Equal(t, 2, result.Metadata["selectionCount"])
	assert.Equal(t, len(paragraphA)+2+len(paragraphB), result.Metadata["totalCharacters"])
	assert.Equal(t, paragraphA+"\n\n"+paragraphB, result.Content.Text)
	assert.Equal(t, "Field notes", result.Content.Title)
	assert.NotContains(t, result.Content.HTML, "extract-")

	assert.Equal(t, StateInactive, s.State())
	assert.Equal(t, StateConfirmed, s.Outcome())
	stored, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, result.Content.Text, stored.Content.Text)

	markup, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, markup, "extract-")
	assert.Empty(t, doc.Owner())
	assert.Equal(t, 0, doc.ObserverCount())
	assert.Equal(t, 0, doc.UnloadListenerCount())
}

func TestConfirmFailures(t *testing.T) {
	idle := NewSession(nil)
	_, err := idle.Confirm()
	var manualErr *models.ManualSelectionError
	require.True(t, errors.As(err, &manualErr))
	assert.Equal(t, models.SelectionNotActive, manualErr.Reason)

	s, _ := activeSession(t)
	_, err = s.Confirm()
	require.True(t, errors.As(err, &manualErr))
	assert.Equal(t, models.SelectionEmpty, manualErr.Reason)

	require.NoError(t, s.Click(indexOf(t, s, "a"), Modifiers{}))
	preview := s.Preview()
	assert.False(t, preview.CanConfirm)
	assert.Contains(t, preview.Warning, "800")

	_, err = s.Confirm()
	require.True(t, errors.As(err, &manualErr))
	assert.Equal(t, models.SelectionBelowMinimum, manualErr.Reason)
	assert.Equal(t, len(paragraphA), manualErr.Actual)
	assert.Equal(t, models.MinContentLength, manualErr.Required)
	assert.Equal(t, StateActive, s.State())
}

func TestClickReplacesAndToggles(t *testing.T) {
	s, _ := activeSession(t)
	a, b := indexOf(t, s, "a"), indexOf(t, s, "b")

	require.NoError(t, s.Click(a, Modifiers{}))
	require.NoError(t, s.Click(b, Modifiers{}))
	assert.Equal(t, []int{b}, s.Selected())

	require.NoError(t, s.Click(b, Modifiers{}))
	assert.Empty(t, s.Selected())

	assert.Error(t, s.Click(99, Modifiers{}))
}

func TestKeyboardNavigation(t *testing.T) {
	s, doc := activeSession(t)
	article := indexOfTag(t, s, "article")
	nav := indexOfTag(t, s, "nav")
	a := indexOf(t, s, "a")

	candidates := s.Candidates()
	assert.Equal(t, PriorityHigh, candidates[article].Priority)
	assert.Equal(t, PriorityLow, candidates[nav].Priority)

	require.NoError(t, s.Key(KeyTab))
	assert.Equal(t, article, s.Focused())
	require.NoError(t, s.Key(KeyTab))
	assert.Equal(t, a, s.Focused())
	require.NoError(t, s.Key(KeySpace))
	assert.Equal(t, []int{a}, s.Selected())
	require.NoError(t, s.Key(KeyShiftTab))
	assert.Equal(t, article, s.Focused())
	require.NoError(t, s.Key(KeyShiftTab))
	assert.Equal(t, nav, s.Focused())

	require.NoError(t, s.Key(KeyEscape))
	assert.Equal(t, StateInactive, s.State())
	assert.Equal(t, StateCancelled, s.Outcome())
	_, ok := s.Result()
	assert.False(t, ok)

	markup, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, markup, "extract-")
}

func TestEnterConfirms(t *testing.T) {
	s, _ := activeSession(t, WithMinLength(100))
	require.NoError(t, s.Click(indexOf(t, s, "a"), Modifiers{}))
	require.NoError(t, s.Key(KeyEnter))
	assert.Equal(t, StateConfirmed, s.Outcome())
}

func TestDragSelectsInnermostCandidates(t *testing.T) {
	s, _ := activeSession(t)
	article, nav := indexOfTag(t, s, "article"), indexOfTag(t, s, "nav")
	a, b := indexOf(t, s, "a"), indexOf(t, s, "b")

	require.NoError(t, s.SetBoxes(map[int]Rect{
		article: {X: 0, Y: 100, W: 800, H: 150},
		a:       {X: 0, Y: 100, W: 800, H: 50},
		b:       {X: 0, Y: 200, W: 800, H: 50},
		nav:     {X: 0, Y: 1000, W: 800, H: 40},
	}))

	require.NoError(t, s.DragStart(Point{X: 10, Y: 90}, Modifiers{}))
	require.NoError(t, s.DragMove(Point{X: 500, Y: 160}))
	assert.Equal(t, []int{a}, s.Selected())

	require.NoError(t, s.DragEnd(Point{X: 500, Y: 260}))
	assert.Equal(t, []int{a, b}, s.Selected())
	assert.Error(t, s.DragMove(Point{X: 1, Y: 1}))

	// a multi drag keeps the existing selection
	require.NoError(t, s.DragStart(Point{X: 0, Y: 990}, Modifiers{Multi: true}))
	require.NoError(t, s.DragEnd(Point{X: 50, Y: 1010}))
	assert.Equal(t, []int{a, b, nav}, s.Selected())
}

func TestTracksMutations(t *testing.T) {
	s, doc := activeSession(t)
	b := indexOf(t, s, "b")
	removedNode := s.candidates[b].node
	require.NoError(t, s.Click(b, Modifiers{}))

	_, err := doc.Remove("#b")
	require.NoError(t, err)
	assert.Empty(t, s.Selected())
	assert.True(t, s.Candidates()[b].Removed)
	assert.Error(t, s.Click(b, Modifiers{}))

	before := len(s.Candidates())
	_, err = doc.AppendHTML("article", `<p id="c">A late paragraph streamed in after hydration.</p>`)
	require.NoError(t, err)
	after := s.Candidates()
	require.Len(t, after, before+1)
	assert.Equal(t, "p", after[before].Tag)

	require.NoError(t, s.Cancel())
	assert.NotContains(t, dom.Attr(removedNode, "class"), "extract-")
	markup, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, markup, "extract-")
}

func TestReRenderKeepsSelection(t *testing.T) {
	var pushed [][]Candidate
	s, doc := activeSession(t, WithCandidatesHook(func(c []Candidate) { pushed = append(pushed, c) }))
	a, b := indexOf(t, s, "a"), indexOf(t, s, "b")
	require.NoError(t, s.Click(a, Modifiers{}))
	require.NoError(t, s.Click(b, Modifiers{Multi: true}))
	before := len(s.Candidates())
	oldNode := s.candidates[a].node

	// a framework re-render swaps every paragraph for an identical copy
	_, err := doc.SetInnerHTML("article", `<p id="a">`+paragraphA+`</p><p id="b">`+paragraphB+`</p>`)
	require.NoError(t, err)

	assert.Equal(t, []int{a, b}, s.Selected())
	assert.Equal(t, b, s.Focused())
	assert.True(t, s.Preview().CanConfirm)
	require.Len(t, s.Candidates(), before)
	for _, c := range s.Candidates() {
		assert.False(t, c.Removed, "candidate %d", c.Index)
	}

	fresh := s.candidates[a].node
	assert.NotSame(t, oldNode, fresh)
	assert.True(t, dom.HasClass(fresh, ClassSelected))
	assert.True(t, dom.HasClass(fresh, ClassCandidate))
	assert.True(t, dom.HasClass(s.candidates[b].node, ClassFocused))

	require.Len(t, pushed, 1)
	assert.Len(t, pushed[0], before)

	require.NoError(t, s.Click(a, Modifiers{Multi: true}))
	assert.Equal(t, []int{b}, s.Selected())

	require.NoError(t, s.Cancel())
	markup, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, markup, "extract-")
	assert.NotContains(t, dom.Attr(oldNode, "class"), "extract-")
}

func TestReplaceWithRereadMarkupKeepsSelection(t *testing.T) {
	var pushed [][]Candidate
	s, doc := activeSession(t, WithCandidatesHook(func(c []Candidate) { pushed = append(pushed, c) }))
	a, b := indexOf(t, s, "a"), indexOf(t, s, "b")
	require.NoError(t, s.Click(a, Modifiers{}))
	require.NoError(t, s.Click(b, Modifiers{Multi: true}))
	before := len(s.Candidates())

	// the rendered page is read back without the session's marks
	require.NoError(t, doc.Replace(selectionPage()))
	assert.Equal(t, []int{a, b}, s.Selected())
	assert.True(t, s.Preview().CanConfirm)
	assert.Empty(t, pushed)

	changed := strings.Replace(selectionPage(), "Archive of older posts", "Archive of every older post", 1)
	require.NoError(t, doc.Replace(changed))
	assert.Equal(t, []int{a, b}, s.Selected())
	assert.Len(t, s.Candidates(), before)

	// moving a comment ahead of #b re-inserts the paragraph at the same place
	swapped := strings.Replace(selectionPage(),
		`<p id="b">`+paragraphB+`</p></article>`,
		`<p id="b">`+paragraphB+`</p><!-- end --></article>`, 1)
	require.NoError(t, doc.Replace(swapped))
	reordered := strings.Replace(selectionPage(),
		`<p id="b">`+paragraphB+`</p></article>`,
		`<!-- end --><p id="b">`+paragraphB+`</p></article>`, 1)
	require.NoError(t, doc.Replace(reordered))
	assert.Equal(t, []int{a, b}, s.Selected())
	require.Len(t, s.Candidates(), before)
	assert.False(t, s.Candidates()[b].Removed)
	assert.True(t, dom.HasClass(s.candidates[b].node, ClassSelected))

	result, err := s.Confirm()
	require.NoError(t, err)
	assert.Equal(t, paragraphA+"\n\n"+paragraphB, result.Content.Text)
}

func TestCandidatesHookReportsRemoval(t *testing.T) {
	var pushed [][]Candidate
	s, doc := activeSession(t, WithCandidatesHook(func(c []Candidate) { pushed = append(pushed, c) }))
	b := indexOf(t, s, "b")

	_, err := doc.Remove("#b")
	require.NoError(t, err)
	require.Len(t, pushed, 1)
	assert.True(t, pushed[0][b].Removed)
}

func TestStructuralPath(t *testing.T) {
	doc, err := dom.LoadString(`<html><body><div></div><!-- x --><div><p>one</p><p id="t">two</p></div></body></html>`, "")
	require.NoError(t, err)
	var target *html.Node
	require.NoError(t, doc.Read(func(q *goquery.Document) { target = q.Find("#t").Get(0) }))
	assert.Equal(t, "html[0]/body[1]/div[1]/p[1]", structuralPath(target))
}

func TestOneSessionPerDocument(t *testing.T) {
	first, doc := activeSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	second := NewSession(nil)
	assert.Error(t, second.Activate(ctx, doc))
	assert.Equal(t, ErrAlreadyActive, first.Activate(context.Background(), doc))

	require.NoError(t, first.Cancel())
	require.NoError(t, second.Activate(context.Background(), doc))
	assert.Equal(t, StateActive, second.State())
	require.NoError(t, second.Cancel())
}

func TestUnloadCancelsSession(t *testing.T) {
	var states []State
	s, doc := activeSession(t, WithStateHook(func(st State) { states = append(states, st) }))
	doc.Unload()
	assert.Equal(t, StateInactive, s.State())
	assert.Equal(t, StateCancelled, s.Outcome())
	assert.Equal(t, []State{StateActive, StateCancelled}, states)
}

func TestRectIntersects(t *testing.T) {
	base := Rect{X: 0, Y: 0, W: 10, H: 10}
	tests := []struct {
		name  string
		other Rect
		want  bool
	}{
		{"overlap", Rect{X: 5, Y: 5, W: 10, H: 10}, true},
		{"contained", Rect{X: 2, Y: 2, W: 2, H: 2}, true},
		{"touching edge", Rect{X: 10, Y: 0, W: 5, H: 5}, false},
		{"apart", Rect{X: 20, Y: 20, W: 5, H: 5}, false},
		{"empty", Rect{X: 1, Y: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Intersects(tt.other))
		})
	}
	assert.Equal(t, Rect{X: 1, Y: 2, W: 4, H: 6}, RectFromPoints(Point{X: 5, Y: 8}, Point{X: 1, Y: 2}))
}

func TestFlowLayout(t *testing.T) {
	root, err := html.Parse(strings.NewReader(`<body><p>` + strings.Repeat("x", 250) + `</p><p>short</p></body>`))
	require.NoError(t, err)
	var ps []*html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			ps = append(ps, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)

	rects := DefaultFlowLayout().Layout(root, ps)
	assert.Equal(t, Rect{X: 0, Y: 0, W: 1024, H: 72}, rects[0])
	assert.Equal(t, Rect{X: 0, Y: 72, W: 1024, H: 24}, rects[1])
}
