package extractor

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"extract-main-content/internal/config"
	"extract-main-content/internal/dom"

	"github.com/PuerkitoBio/goquery"
)

// ImageCandidate is an image considered for the lead image
type ImageCandidate struct {
	URL       string
	Width     int
	Height    int
	InArticle bool
	BadHint   bool
	Source    string
	Score     float64
}

// Area returns width times height, zero when unknown
func (c ImageCandidate) Area() int { return c.Width * c.Height }

var (
	ratioWhitelist = []float64{16.0 / 9.0, 4.0 / 3.0, 3.0 / 2.0, 1.0, 2.0}
	adSizes        = map[string]bool{
		"300x250": true, "336x280": true, "728x90": true, "970x90": true,
		"970x250": true, "300x600": true, "320x50": true, "160x600": true,
	}
)

const (
	ratioTolerance = 0.05
	minAspect      = 0.3
	maxAspect      = 3.5
	targetWidth    = 1000
)

// ImagePicker selects the lead image of a page
type ImagePicker struct {
	config  config.ImageConfig
	regexes map[string]*regexp.Regexp
}

// NewImagePicker creates a picker for cfg
func NewImagePicker(cfg config.ImageConfig) *ImagePicker {
	return &ImagePicker{
		config:  cfg,
		regexes: config.CompileRegexes(cfg),
	}
}

// LeadImage returns the best scoring image URL or "" when none qualifies
func (p *ImagePicker) LeadImage(doc *goquery.Document, base *url.URL) string {
	top := p.Images(doc, base, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

// Images returns up to limit unique image URLs, best first
func (p *ImagePicker) Images(doc *goquery.Document, base *url.URL, limit int) []string {
	var candidates []ImageCandidate
	if og := p.ogImage(doc, base); og != nil {
		candidates = append(candidates, *og)
	}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if c := p.imgCandidate(s, base); c != nil {
			candidates = append(candidates, *c)
		}
	})

	var kept []ImageCandidate
	for _, c := range candidates {
		if !p.passesFilters(c) {
			continue
		}
		c.Score = scoreImage(c)
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Area() > kept[j].Area()
	})

	seen := make(map[string]bool)
	var result []string
	for _, c := range kept {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		result = append(result, c.URL)
		if len(result) >= limit {
			break
		}
	}
	return result
}

func (p *ImagePicker) ogImage(doc *goquery.Document, base *url.URL) *ImageCandidate {
	raw := dom.FindMetaTag(doc, dom.OGImage, "")
	if raw == "" {
		raw = dom.FindMetaTag(doc, "og:image:secure_url", "")
	}
	abs := resolve(raw, base)
	if abs == "" || !p.regexes["imageExt"].MatchString(abs) {
		return nil
	}

	width := atoi(dom.FindMetaTag(doc, "og:image:width", ""))
	height := atoi(dom.FindMetaTag(doc, "og:image:height", ""))
	if width == 0 || height == 0 {
		w, h := p.dimensionsFromURL(abs)
		width, height = orInt(width, w), orInt(height, h)
	}
	return &ImageCandidate{URL: abs, Width: width, Height: height, InArticle: true, Source: ogSource}
}

func (p *ImagePicker) imgCandidate(s *goquery.Selection, base *url.URL) *ImageCandidate {
	src := ""
	for _, attr := range []string{"src", "data-src", "data-original", "data-lazy-src"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			src = v
			break
		}
	}
	if src == "" {
		if srcset, ok := s.Attr("srcset"); ok {
			src = pickFromSrcset(srcset)
		}
	}
	abs := resolve(src, base)
	if abs == "" || !p.regexes["imageExt"].MatchString(abs) {
		return nil
	}

	width := atoi(s.AttrOr("width", ""))
	height := atoi(s.AttrOr("height", ""))
	if width == 0 || height == 0 {
		w, h := p.dimensionsFromURL(abs)
		width, height = orInt(width, w), orInt(height, h)
	}

	hints := abs + " " + s.AttrOr("class", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("alt", "")
	return &ImageCandidate{
		URL:       abs,
		Width:     width,
		Height:    height,
		InArticle: s.ParentsFiltered("article, main").Length() > 0,
		BadHint:   p.regexes["badHint"].MatchString(hints),
		Source:    imgSource,
	}
}

func (p *ImagePicker) dimensionsFromURL(u string) (int, int) {
	if m := p.regexes["dimensionsFromUrl"].FindStringSubmatch(u); len(m) > 2 {
		return atoi(m[1]), atoi(m[2])
	}
	if m := p.regexes["widthFromUrl"].FindStringSubmatch(u); len(m) > 1 {
		return atoi(m[1]), 0
	}
	return 0, 0
}

func (p *ImagePicker) passesFilters(c ImageCandidate) bool {
	if c.Width == 0 || c.Height == 0 {
		return !c.BadHint
	}
	shortSide := min(c.Width, c.Height)
	if shortSide < p.config.MinShortSide {
		return false
	}
	aspect := float64(c.Width) / float64(c.Height)
	if (aspect < minAspect || aspect > maxAspect) && !whitelisted(aspect) {
		return false
	}
	if adSizes[fmt.Sprintf("%dx%d", c.Width, c.Height)] {
		return false
	}
	if c.BadHint && !(shortSide >= badHintMinShort && c.Area() >= badHintMinArea) {
		return false
	}
	return true
}

// scoreImage favors in-article images, og:image, common ratios and size
func scoreImage(c ImageCandidate) float64 {
	score := 0.0
	if c.InArticle {
		score += 2
	}
	if c.Source == ogSource {
		score++
	}
	if c.Width > 0 && c.Height > 0 && whitelisted(float64(c.Width)/float64(c.Height)) {
		score++
	}
	if area := float64(c.Area()); area > 0 {
		score += math.Log10(math.Max(1, area))
	}
	return score
}

func whitelisted(aspect float64) bool {
	for _, ratio := range ratioWhitelist {
		if math.Abs(aspect-ratio) <= ratioTolerance {
			return true
		}
	}
	return false
}

// pickFromSrcset selects the entry closest to targetWidth, preferring larger ones
func pickFromSrcset(srcset string) string {
	best, bestW := "", 0
	for _, item := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(item))
		if len(fields) == 0 {
			continue
		}
		w := 0
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			w = atoi(strings.TrimSuffix(fields[1], "w"))
		}
		if best == "" {
			best, bestW = fields[0], w
			continue
		}
		diff, bestDiff := abs(w-targetWidth), abs(bestW-targetWidth)
		if diff < bestDiff || (diff == bestDiff && w > bestW) {
			best, bestW = fields[0], w
		}
	}
	return best
}

func resolve(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil {
		return 0
	}
	return n
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
