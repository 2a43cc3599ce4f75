package extractor

// Content extraction selectors
const (
	NonContentTags   = "script, style, noscript, template, nav, header, footer, aside, form, iframe, svg, button, dialog"
	CandidateTags    = "div, section, article, main, td, blockquote"
	ParagraphElement = "p"
	LinkElement      = "a"
)

// ContentSelectors are tried in order before falling back to candidate scoring
var ContentSelectors = []string{
	"article",
	"main",
	"[role='main']",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	".story-content",
	".post-body",
	"#content",
	".content",
}

// BoilerplatePatterns are class or id substrings that mark page chrome.
// There is no bare "ad" entry since it would match "header", "thread" and "download".
var BoilerplatePatterns = []string{
	"sidebar",
	"comment",
	"footer",
	"masthead",
	"menu",
	"navbar",
	"navigation",
	"social",
	"share",
	"related",
	"recommend",
	"advert",
	"ads-",
	"-ads",
	"ad-slot",
	"ad-container",
	"sponsor",
	"promo",
	"newsletter",
	"subscribe",
	"cookie",
	"consent",
	"popup",
	"modal",
	"banner",
	"breadcrumb",
	"widget",
	"outbrain",
	"taboola",
	"disqus",
	"pagination",
}

// Boilerplate protection thresholds: an element with at least this much text
// and a link share below the ratio is kept even when its class looks like chrome
const (
	ProtectedMinText   = 200
	ProtectedLinkRatio = 0.2
)

// Candidate scoring weights
const (
	scoreLengthDivisor  = 100.0
	scoreLengthCap      = 100.0
	scoreParagraphBonus = 10.0
	scoreLinkPenalty    = 5.0
	scoreDensityWeight  = 100.0
	densityCharsPerTag  = 50.0
)

// Text processing constants
const (
	DoubleNewline = "\n\n"
	TripleNewline = "\n\n\n"
	DoubleSpace   = "  "
	SingleSpace   = " "
)

// Lead image constants
const (
	ogSource        = "og"
	imgSource       = "img"
	badHintMinShort = 400
	badHintMinArea  = 300000
)
