// Package scraper loads documents for extraction: HTTP first, with a headless
// browser fallback that keeps a live mirror of the rendered page.
package scraper

import "time"

// Timeout constants
const (
	HTTPTimeout    = 18 * time.Second
	BrowserTimeout = 40 * time.Second
)

// Browser configuration
const (
	DefaultWindowWidth  = 1366
	DefaultWindowHeight = 900
	MaxRedirects        = 5
)

// Blocked domains for browser requests
var BlockedDomains = []string{
	"doubleclick",
	"googlesyndication",
	"google-analytics",
	"facebook.com/tr",
	"taboola",
	"outbrain",
	"scorecardresearch",
	"chartbeat",
	"amazon-adsystem",
}

// alternateStatuses are the responses worth retrying on AMP and mobile URLs
var alternateStatuses = map[int]bool{
	403: true,
	406: true,
	451: true,
}

// appShellTextLimit is the body text length below which a framework page is
// treated as an unrendered shell
const appShellTextLimit = 200
