package sites

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
)

const (
	stackExchangeName     = "stackexchange"
	stackExchangePriority = 90
	maxAnswers            = 5
)

var stackExchangeHosts = []string{
	"stackoverflow.com",
	"stackexchange.com",
	"superuser.com",
	"serverfault.com",
	"askubuntu.com",
	"mathoverflow.net",
	"stackapps.com",
}

type stackExchange struct{}

func newStackExchange() *stackExchange { return &stackExchange{} }

func isStackExchange(u *url.URL) bool {
	return hostIs(u, stackExchangeHosts...) && strings.Contains(u.Path, "/questions/")
}

func (s *stackExchange) Name() string              { return stackExchangeName }
func (s *stackExchange) Priority() int             { return stackExchangePriority }
func (s *stackExchange) CanHandle(u *url.URL) bool { return isStackExchange(u) }

type answer struct {
	text     string
	score    int
	accepted bool
}

// Extract returns the question followed by the accepted and top-voted answers
func (s *stackExchange) Extract(_ context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error) {
	question := first(doc.Selection, `#question`, `.question`)
	if question.Length() == 0 {
		return nil, nil
	}
	body := first(question, `.s-prose`, `.js-post-body`, `.post-text`)
	if body.Length() == 0 {
		return nil, nil
	}
	questionText := dom.StructuredText(body.Get(0))
	if questionText == "" {
		return nil, nil
	}

	title := firstText(doc.Selection, `#question-header h1`, `h1[itemprop="name"]`, `.question-hyperlink`)
	if title == "" {
		title = dom.DocumentTitle(doc)
	}

	var answers []answer
	doc.Find(`#answers .answer, .answer`).Each(func(_ int, a *goquery.Selection) {
		post := first(a, `.s-prose`, `.js-post-body`, `.post-text`)
		if post.Length() == 0 {
			return
		}
		text := dom.StructuredText(post.Get(0))
		if text == "" {
			return
		}
		answers = append(answers, answer{
			text:     text,
			score:    voteScore(a),
			accepted: a.HasClass("accepted-answer") || a.Is(`[itemprop="acceptedAnswer"]`),
		})
	})
	sort.SliceStable(answers, func(i, j int) bool {
		if answers[i].accepted != answers[j].accepted {
			return answers[i].accepted
		}
		return answers[i].score > answers[j].score
	})
	if len(answers) > maxAnswers {
		answers = answers[:maxAnswers]
	}

	parts := []string{title, questionText}
	hasAccepted := false
	for _, a := range answers {
		label := fmt.Sprintf("Answer (%d votes)", a.score)
		if a.accepted {
			hasAccepted = true
			label = fmt.Sprintf("Accepted answer (%d votes)", a.score)
		}
		parts = append(parts, label+"\n\n"+a.text)
	}

	meta := map[string]any{
		"site":        stackExchangeName,
		"host":        u.Hostname(),
		"answerCount": len(answers),
		"hasAccepted": hasAccepted,
	}
	var tags []string
	question.Find(`.post-tag`).Each(func(_ int, t *goquery.Selection) {
		if tag := dom.CollapseWhitespace(t.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})
	if len(tags) > 0 {
		meta["tags"] = tags
	}

	return &ExtractedContent{
		Title:    title,
		Text:     section(parts...),
		HTML:     outerHTML(body),
		Metadata: meta,
	}, nil
}

func voteScore(a *goquery.Selection) int {
	if v, ok := a.Attr("data-score"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(a.Find(`.js-vote-count`).First().Text())); err == nil {
		return n
	}
	return 0
}
