package sites

import (
	"context"
	"net/url"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
)

const (
	redditName     = "reddit"
	redditPriority = 80
	maxComments    = 20
)

type reddit struct{}

func newReddit() *reddit { return &reddit{} }

func isReddit(u *url.URL) bool {
	return hostIs(u, "reddit.com") && strings.Contains(u.Path, "/comments/")
}

func (r *reddit) Name() string              { return redditName }
func (r *reddit) Priority() int             { return redditPriority }
func (r *reddit) CanHandle(u *url.URL) bool { return isReddit(u) }

// Extract handles both the current web components layout and old.reddit.com
func (r *reddit) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	if post := doc.Find("shreddit-post").First(); post.Length() > 0 {
		return r.extractModern(doc, post), nil
	}
	if post := doc.Find("#siteTable .thing.link").First(); post.Length() > 0 {
		return r.extractOld(doc, post), nil
	}
	return nil, nil
}

func (r *reddit) extractModern(doc *goquery.Document, post *goquery.Selection) *ExtractedContent {
	title, _ := post.Attr("post-title")
	if title == "" {
		title = firstText(doc.Selection, `h1[slot="title"]`, `h1`)
	}
	body := first(post, `[slot="text-body"]`, `.md`)

	var comments []string
	doc.Find(`shreddit-comment`).EachWithBreak(func(_ int, c *goquery.Selection) bool {
		text := dom.StructuredText(nodeOf(first(c, `[slot="comment"]`, `.md`)))
		if text != "" {
			author, _ := c.Attr("author")
			comments = append(comments, withAuthor(author, text))
		}
		return len(comments) < maxComments
	})

	author, _ := post.Attr("author")
	subreddit, _ := post.Attr("subreddit-prefixed-name")
	return r.build(title, body, comments, author, subreddit)
}

func (r *reddit) extractOld(doc *goquery.Document, post *goquery.Selection) *ExtractedContent {
	title := firstText(post, `a.title`)
	body := first(post, `.expando .usertext-body .md`)

	var comments []string
	doc.Find(`.commentarea .comment`).EachWithBreak(func(_ int, c *goquery.Selection) bool {
		md := c.ChildrenFiltered(".entry").Find(".usertext-body .md").First()
		text := dom.StructuredText(nodeOf(md))
		if text != "" {
			author := firstText(c.ChildrenFiltered(".entry"), "a.author")
			comments = append(comments, withAuthor(author, text))
		}
		return len(comments) < maxComments
	})

	author, _ := post.Attr("data-author")
	subreddit, _ := post.Attr("data-subreddit-prefixed")
	return r.build(title, body, comments, author, subreddit)
}

func (r *reddit) build(title string, body *goquery.Selection, comments []string, author, subreddit string) *ExtractedContent {
	bodyText := dom.StructuredText(nodeOf(body))
	if title == "" || (bodyText == "" && len(comments) == 0) {
		return nil
	}

	meta := map[string]any{
		"site":         redditName,
		"commentCount": len(comments),
	}
	if author != "" {
		meta["author"] = author
	}
	if subreddit != "" {
		meta["subreddit"] = subreddit
	}

	return &ExtractedContent{
		Title:    title,
		Text:     section(append([]string{title, bodyText}, comments...)...),
		HTML:     outerHTML(body),
		Metadata: meta,
	}
}

func withAuthor(author, text string) string {
	if author == "" {
		return text
	}
	return author + ":\n" + text
}
