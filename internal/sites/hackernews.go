package sites

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

const (
	hackerNewsName     = "hackernews"
	hackerNewsPriority = 80
)

type hackerNews struct{}

func newHackerNews() *hackerNews { return &hackerNews{} }

func isHackerNews(u *url.URL) bool {
	return hostIs(u, "news.ycombinator.com") && u.Path == "/item"
}

func (h *hackerNews) Name() string              { return hackerNewsName }
func (h *hackerNews) Priority() int             { return hackerNewsPriority }
func (h *hackerNews) CanHandle(u *url.URL) bool { return isHackerNews(u) }

// Extract walks the item table with XPath: story title, optional text post and comments
func (h *hackerNews) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	root := nodeOf(doc.Selection)
	if root == nil {
		return nil, nil
	}

	titleNode := htmlquery.FindOne(root, `//span[@class="titleline"]/a`)
	if titleNode == nil {
		titleNode = htmlquery.FindOne(root, `//td[@class="title"]/a`)
	}
	title := ""
	link := ""
	if titleNode != nil {
		title = dom.CollapseWhitespace(htmlquery.InnerText(titleNode))
		link = htmlquery.SelectAttr(titleNode, "href")
	}

	storyText := ""
	if top := htmlquery.FindOne(root, `//div[contains(@class,"toptext")]`); top != nil {
		storyText = dom.StructuredText(top)
	}

	var comments []string
	for _, row := range htmlquery.Find(root, `//tr[contains(@class,"athing") and contains(@class,"comtr")]`) {
		body := htmlquery.FindOne(row, `.//div[contains(@class,"commtext")]`)
		if body == nil {
			continue
		}
		text := dom.StructuredText(body)
		if text == "" {
			continue
		}
		author := ""
		if a := htmlquery.FindOne(row, `.//a[@class="hnuser"]`); a != nil {
			author = htmlquery.InnerText(a)
		}
		depth := 0
		if indent := htmlquery.FindOne(row, `.//td[@class="ind"]`); indent != nil {
			depth, _ = strconv.Atoi(htmlquery.SelectAttr(indent, "indent"))
		}
		comments = append(comments, strings.Repeat("  ", depth)+withAuthor(author, text))
		if len(comments) >= maxComments*2 {
			break
		}
	}

	if title == "" || (storyText == "" && len(comments) == 0) {
		return nil, nil
	}

	meta := map[string]any{
		"site":         hackerNewsName,
		"commentCount": len(comments),
	}
	if id := u.Query().Get("id"); id != "" {
		meta["itemId"] = id
	}
	if link != "" && !strings.HasPrefix(link, "item?") {
		meta["link"] = link
	}
	if score := htmlquery.FindOne(root, `//span[@class="score"]`); score != nil {
		meta["points"] = strings.TrimSuffix(htmlquery.InnerText(score), " points")
	}

	return &ExtractedContent{
		Title:    title,
		Text:     section(append([]string{title, storyText}, comments...)...),
		Metadata: meta,
	}, nil
}
