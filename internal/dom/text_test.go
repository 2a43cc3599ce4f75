package dom

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredText(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{
			name: "paragraphs and inline elements",
			markup: `<div><p>Hello   <b>brave</b> new<i>world</i></p><p>Second
			paragraph</p></div>`,
			want: "Hello brave newworld\n\nSecond paragraph",
		},
		{
			name:   "line breaks and list items",
			markup: `<div>one<br>two<ul><li>a</li><li>b</li></ul></div>`,
			want:   "one\ntwo\n\na\nb",
		},
		{
			name:   "code block fenced verbatim",
			markup: "<article><p>Run:</p><pre><code class=\"language-go\">func main() {\n\tprintln(1)\n}</code></pre></article>",
			want:   "Run:\n\n```go\nfunc main() {\n\tprintln(1)\n}\n```",
		},
		{
			name:   "scripts skipped",
			markup: `<section><script>var x;</script><p>kept</p><style>p{}</style></section>`,
			want:   "kept",
		},
		{
			name:   "table cells separated",
			markup: `<table><tr><td>a</td><td>b</td></tr><tr><td>c</td></tr></table>`,
			want:   "a b\nc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.markup))
			require.NoError(t, err)
			assert.Equal(t, tt.want, StructuredText(doc.Find("body").Get(0)))
		})
	}
}

func TestSelectionTextJoinsNodes(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<p>first</p><div>x</div><p>second</p>`))
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", SelectionText(doc.Find("p")))
	assert.Equal(t, "", StructuredText(nil))
}

func TestFindMetaTagAndTitle(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><head>
		<title>Tab title</title>
		<meta name="description" content=" A page ">
		<meta property="og:title" content="">
		<meta property="og:title" content="Open  Graph">
	</head><body><h1>Heading</h1></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "A page", FindMetaTag(doc, "", MetaDesc))
	assert.Equal(t, "Open Graph", DocumentTitle(doc))

	doc.Find("meta").Remove()
	assert.Equal(t, "Heading", DocumentTitle(doc))
	doc.Find("h1").Remove()
	assert.Equal(t, "Tab title", DocumentTitle(doc))
}
