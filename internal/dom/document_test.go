package dom

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Sample</title><script>var x = 1;</script></head>
<body>
  <div id="app"><p>Hello</p></div>
  <div id="ticker" aria-live="polite">0</div>
</body></html>`

func mustLoad(t *testing.T, markup string) *Document {
	t.Helper()
	doc, err := LoadString(markup, "https://example.com/post")
	require.NoError(t, err)
	return doc
}

func TestLoadAndSnapshotIsolation(t *testing.T) {
	doc := mustLoad(t, samplePage)
	assert.Equal(t, StateComplete, doc.ReadyState())
	assert.Equal(t, "example.com", doc.URL().Host)

	snap, err := doc.SnapshotDocument()
	require.NoError(t, err)
	snap.Find("#app").Remove()

	var appCount int
	require.NoError(t, doc.Read(func(live *goquery.Document) {
		appCount = live.Find("#app").Length()
	}))
	assert.Equal(t, 1, appCount, "mutating a snapshot must not touch the live tree")
}

func TestBodyTextLengthSkipsScripts(t *testing.T) {
	doc := mustLoad(t, `<html><body><script>aaaaaaaaaa</script><p>abc</p></body></html>`)
	assert.Equal(t, 3, doc.BodyTextLength())
	assert.Greater(t, doc.NodeCount(), 3)
}

func TestObserveReportsQualifyingMutations(t *testing.T) {
	doc := mustLoad(t, samplePage)

	var mu sync.Mutex
	var got []Mutation
	cancel, err := doc.Observe(ObserveOptions{IgnoredSelectors: []string{"[aria-live]"}}, func(ms []Mutation) {
		mu.Lock()
		got = append(got, ms...)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = doc.SetText("#ticker", "1")
	require.NoError(t, err)
	n, err := doc.AppendHTML("#app", "<p>World</p>")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mu.Lock()
	require.Len(t, got, 1, "ticker mutation is ignored")
	assert.Equal(t, MutationChildList, got[0].Type)
	require.Len(t, got[0].Added, 1)
	mu.Unlock()

	cancel()
	assert.Equal(t, 0, doc.ObserverCount())

	_, err = doc.AppendHTML("#app", "<p>Again</p>")
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, got, 1, "cancelled observer receives nothing")
	mu.Unlock()
}

func TestObserveRootScope(t *testing.T) {
	doc := mustLoad(t, samplePage)
	count := 0
	cancel, err := doc.Observe(ObserveOptions{Root: "#app"}, func(ms []Mutation) { count += len(ms) })
	require.NoError(t, err)
	defer cancel()

	_, _ = doc.SetText("#ticker", "2")
	_, _ = doc.SetInnerHTML("#app", "<section>new</section>")
	assert.Equal(t, 1, count)

	_, err = doc.Observe(ObserveOptions{Root: "[[["}, func([]Mutation) {})
	assert.Error(t, err)
}

func TestVersionAndReplace(t *testing.T) {
	doc := mustLoad(t, samplePage)
	v := doc.Version()

	require.NoError(t, doc.Replace(`<html><body><main>fresh</main></body></html>`))
	assert.Greater(t, doc.Version(), v)

	html, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "<main>fresh</main>")
}

func TestReplaceKeepsUnchangedNodes(t *testing.T) {
	doc := mustLoad(t, samplePage)
	p := findElement(doc.root, "p")
	require.NotNil(t, p)
	require.NoError(t, doc.AddClass(p, "extract-selected"))
	v := doc.Version()

	var records []Mutation
	_, err := doc.Observe(ObserveOptions{}, func(m []Mutation) { records = append(records, m...) })
	require.NoError(t, err)

	markup, err := doc.HTML()
	require.NoError(t, err)
	require.NoError(t, doc.Replace(strings.Replace(markup, ` class="extract-selected"`, "", 1)))
	assert.Equal(t, v, doc.Version(), "identical markup is not a mutation")
	assert.Empty(t, records)

	require.NoError(t, doc.Replace(strings.Replace(samplePage, "<p>Hello</p>", "<p>Hello</p><p>World</p>", 1)))
	assert.Greater(t, doc.Version(), v)
	assert.True(t, doc.Contains(p), "unchanged element keeps its identity")
	assert.True(t, HasClass(p, "extract-selected"), "locally applied class survives")
	require.Len(t, records, 1)
	assert.Equal(t, MutationChildList, records[0].Type)
	assert.Equal(t, "app", Attr(records[0].Target, "id"))
	require.Len(t, records[0].Added, 1)
	assert.Equal(t, "World", VisibleText(records[0].Added[0]))
	assert.Empty(t, records[0].Removed)
}

func TestReplaceRespectsIgnoredSelectors(t *testing.T) {
	doc := mustLoad(t, samplePage)

	var scoped, all int
	_, err := doc.Observe(ObserveOptions{IgnoredSelectors: []string{"[aria-live]"}}, func(m []Mutation) { scoped += len(m) })
	require.NoError(t, err)
	_, err = doc.Observe(ObserveOptions{}, func(m []Mutation) { all += len(m) })
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		markup := strings.Replace(samplePage, `aria-live="polite">0<`, fmt.Sprintf(`aria-live="polite">%d<`, i), 1)
		require.NoError(t, doc.Replace(markup))
	}
	assert.Equal(t, 0, scoped)
	assert.Equal(t, 3, all)

	require.NoError(t, doc.Replace(strings.Replace(samplePage, "Hello", "Hello again", 1)))
	assert.Equal(t, 1, scoped)
}

func TestClassesOnLiveNodes(t *testing.T) {
	doc := mustLoad(t, samplePage)

	var target = findElement(doc.root, "p")
	require.NotNil(t, target)

	require.NoError(t, doc.AddClass(target, "extract-selected"))
	require.NoError(t, doc.AddClass(target, "extract-selected"))
	assert.Equal(t, "extract-selected", Attr(target, "class"))
	assert.True(t, HasClass(target, "extract-selected"))

	require.NoError(t, doc.RemoveClass(target, "extract-selected"))
	assert.False(t, HasClass(target, "extract-selected"))

	require.NoError(t, doc.RemoveNode(target))
	assert.False(t, doc.Contains(target))
	// detached nodes can still be cleaned up
	require.NoError(t, doc.AddClass(target, "x"))
	require.NoError(t, doc.RemoveClass(target, "x"))
	assert.False(t, HasClass(target, "x"))
}

func TestUnloadFiresListenersOnce(t *testing.T) {
	doc := mustLoad(t, samplePage)
	fired := 0
	doc.OnUnload(func() { fired++ })
	cancel := doc.OnUnload(func() { fired += 10 })
	cancel()

	doc.Unload()
	doc.Unload()
	assert.Equal(t, 1, fired)
	assert.True(t, doc.Detached())

	_, err := doc.Snapshot()
	assert.ErrorIs(t, err, ErrDetached)
	_, err = doc.AppendHTML("body", "<p/>")
	assert.ErrorIs(t, err, ErrDetached)
}

func TestAcquireSerializesSessions(t *testing.T) {
	doc := mustLoad(t, samplePage)

	release, err := doc.Acquire(context.Background(), "pipeline")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", doc.Owner())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = doc.Acquire(ctx, "manual")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline")

	release()
	release()
	assert.Equal(t, "", doc.Owner())

	release2, err := doc.Acquire(context.Background(), "manual")
	require.NoError(t, err)
	release2()
}

func TestLoadConvertsLegacyCharset(t *testing.T) {
	// "café" in windows-1252
	raw := []byte("<html><body><p>caf\xe9</p></body></html>")
	doc, err := Load(bytes.NewReader(raw), "text/html; charset=windows-1252", "")
	require.NoError(t, err)

	var text string
	require.NoError(t, doc.Read(func(d *goquery.Document) { text = d.Find("p").Text() }))
	assert.Equal(t, "café", text)
	assert.Nil(t, doc.URL())
}

func TestDetectCharset(t *testing.T) {
	assert.Equal(t, "utf-8", DetectCharset([]byte("plain ascii")))
	assert.NotEmpty(t, DetectCharset([]byte{0xff, 0xfe, 0x41}))
}
