package scraper

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// BrowserOptions contains configuration for browser automation
type BrowserOptions struct {
	BlockImages  bool
	BlockFonts   bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
}

// DefaultBrowserOptions keeps scripts and styles so pages render as users see
// them; images and fonts are not needed for extraction
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{
		BlockImages:  true,
		BlockFonts:   true,
		WindowWidth:  DefaultWindowWidth,
		WindowHeight: DefaultWindowHeight,
	}
}

// BuildChromeOptions creates Chrome options based on BrowserOptions
func BuildChromeOptions(opts BrowserOptions) []chromedp.ExecAllocatorOption {
	chromeOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-features", "VizDisplayCompositor"),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)

	if opts.UserAgent != "" {
		chromeOpts = append(chromeOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.BlockImages {
		chromeOpts = append(chromeOpts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if opts.BlockFonts {
		chromeOpts = append(chromeOpts, chromedp.Flag("disable-remote-fonts", true))
	}
	return chromeOpts
}

// RequestBlockingScript is installed before any page script runs. It drops ad
// and tracker requests and hides the webdriver flag.
func RequestBlockingScript() string {
	quoted := make([]string, len(BlockedDomains))
	for i, d := range BlockedDomains {
		quoted[i] = fmt.Sprintf("%q", d)
	}

	return `(() => {
	const blocked = [` + strings.Join(quoted, ", ") + `];
	const isBlocked = (url) => typeof url === "string" && blocked.some((d) => url.includes(d));

	const originalFetch = window.fetch;
	window.fetch = function (...args) {
		const target = args[0] && args[0].url ? args[0].url : args[0];
		if (isBlocked(target)) {
			return Promise.reject(new Error("Blocked"));
		}
		return originalFetch.apply(this, args);
	};

	const originalOpen = XMLHttpRequest.prototype.open;
	XMLHttpRequest.prototype.open = function (method, url, ...rest) {
		if (isBlocked(url)) {
			throw new Error("Blocked");
		}
		return originalOpen.apply(this, [method, url, ...rest]);
	};

	Object.defineProperty(navigator, "webdriver", { get: () => false });
})();`
}

// globalsScript reports the framework globals the SPA detector scores
const globalsScript = `(() => {
	const names = ["__NEXT_DATA__", "next", "__NUXT__", "$nuxt", "___loader", "React", "ReactDOM",
		"__REACT_DEVTOOLS_GLOBAL_HOOK__", "Vue", "__VUE__", "__VUE_DEVTOOLS_GLOBAL_HOOK__", "ng",
		"getAllAngularRootElements", "__svelte", "Ember"];
	const out = {};
	for (const name of names) {
		if (typeof window[name] !== "undefined") {
			out[name] = typeof window[name] === "function" ? "[function]" : "[object]";
		}
	}
	const version = (obj, key) => (obj && typeof obj[key] === "string" ? obj[key] : "");
	if (window.React) out["React.version"] = version(window.React, "version");
	if (window.Vue) out["Vue.version"] = version(window.Vue, "version");
	if (window.Ember) out["Ember.VERSION"] = version(window.Ember, "VERSION");
	if (window.next) out["next.version"] = version(window.next, "version");
	return out;
})()`

// snapshotScript reads the rendered markup and loading state in one round trip
const snapshotScript = `({ html: document.documentElement.outerHTML, state: document.readyState })`
