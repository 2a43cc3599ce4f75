package sites

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
)

const (
	githubName     = "github"
	githubPriority = 100
)

// page kinds recognised on code hosting pages
const (
	githubReadme = "readme"
	githubIssue  = "issue"
	githubPull   = "pull"
	githubFile   = "file"
)

type gitHub struct{}

func newGitHub() *gitHub { return &gitHub{} }

func isGitHub(u *url.URL) bool {
	return hostIs(u, "github.com", "gitlab.com", "codeberg.org")
}

func (g *gitHub) Name() string              { return githubName }
func (g *gitHub) Priority() int             { return githubPriority }
func (g *gitHub) CanHandle(u *url.URL) bool { return isGitHub(u) }

// Extract handles repository READMEs, rendered markdown files, issues and pull requests
func (g *gitHub) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	switch kind := githubKind(u); kind {
	case githubIssue, githubPull:
		return g.extractThread(doc, u, kind), nil
	default:
		return g.extractMarkdown(doc, u, kind), nil
	}
}

func githubKind(u *url.URL) string {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 {
		switch parts[2] {
		case "issues":
			return githubIssue
		case "pull", "merge_requests":
			return githubPull
		case "blob":
			return githubFile
		}
	}
	// GitLab puts a "-" segment before issues and merge requests
	if len(parts) >= 5 && parts[2] == "-" {
		switch parts[3] {
		case "issues":
			return githubIssue
		case "merge_requests":
			return githubPull
		}
	}
	return githubReadme
}

func (g *gitHub) extractMarkdown(doc *goquery.Document, u *url.URL, kind string) *ExtractedContent {
	body := first(doc.Selection,
		`#readme article.markdown-body`,
		`[data-testid="readme"] .markdown-body`,
		`article.markdown-body`,
		`.markdown-body`,
		`.file-content.md`,
		`.readme-holder .md`,
	)
	if body.Length() == 0 {
		return nil
	}
	body.Find(`.anchor, a.octicon-link, .zeroclipboard-container, clipboard-copy`).Remove()

	text := dom.StructuredText(body.Get(0))
	if text == "" {
		return nil
	}

	title := firstText(body, "h1", "h2")
	if title == "" {
		title = firstText(doc.Selection, `strong[itemprop="name"] a`, `[itemprop="name"]`)
	}
	if title == "" {
		title = dom.DocumentTitle(doc)
	}

	meta := map[string]any{
		"site":     githubName,
		"pageType": kind,
	}
	if repo := repoPath(u); repo != "" {
		meta["repository"] = repo
	}
	if about := firstText(doc.Selection, `.BorderGrid-cell p.f4`, `[itemprop="about"]`); about != "" {
		meta["description"] = about
	}

	return &ExtractedContent{
		Title:    title,
		Text:     text,
		HTML:     outerHTML(body),
		Metadata: meta,
	}
}

func (g *gitHub) extractThread(doc *goquery.Document, u *url.URL, kind string) *ExtractedContent {
	title := firstText(doc.Selection,
		`bdi.js-issue-title`,
		`[data-testid="issue-title"]`,
		`.gh-header-title .js-issue-title`,
		`h1.title`,
		`h1`,
	)

	comments := doc.Find(`.js-comment-body, [data-testid="markdown-body"], .comment-body, .note-text`)
	if comments.Length() == 0 {
		return nil
	}

	parts := make([]string, 0, comments.Length())
	authors := doc.Find(`.timeline-comment-header .author, [data-testid="issue-body-header-author"], a.author`)
	comments.Each(func(i int, c *goquery.Selection) {
		text := dom.StructuredText(c.Get(0))
		if text == "" {
			return
		}
		if i < authors.Length() {
			if who := dom.CollapseWhitespace(authors.Eq(i).Text()); who != "" {
				text = fmt.Sprintf("%s:\n%s", who, text)
			}
		}
		parts = append(parts, text)
	})
	if len(parts) == 0 {
		return nil
	}

	meta := map[string]any{
		"site":         githubName,
		"pageType":     kind,
		"commentCount": len(parts) - 1,
	}
	if repo := repoPath(u); repo != "" {
		meta["repository"] = repo
	}
	if state := firstText(doc.Selection, `.State`, `[data-testid="header-state"]`); state != "" {
		meta["state"] = strings.ToLower(state)
	}

	return &ExtractedContent{
		Title:    title,
		Text:     section(append([]string{title}, parts...)...),
		HTML:     outerHTML(comments),
		Metadata: meta,
	}
}

func repoPath(u *url.URL) string {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
