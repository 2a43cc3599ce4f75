package spa

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// HistoryGlobal is set in probe globals when inline scripts touch the History API
const HistoryGlobal = "history.pushState"

// ProbeConfig bounds inline script evaluation
type ProbeConfig struct {
	Timeout        time.Duration
	MaxScripts     int
	MaxScriptBytes int
	UserAgent      string
}

// DefaultProbeConfig returns conservative limits for untrusted page scripts
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout:        500 * time.Millisecond,
		MaxScripts:     32,
		MaxScriptBytes: 256 * 1024,
		UserAgent:      "Mozilla/5.0",
	}
}

// ProbeResult is what running a page's inline scripts revealed
type ProbeResult struct {
	Globals     map[string]string
	HistoryAPI  bool
	Executed    int
	Failed      int
	Interrupted bool
}

// Probe evaluates inline scripts in a throwaway goja VM against a stubbed
// browser environment and reports which globals they define. Nothing the
// scripts do leaves the VM.
type Probe struct {
	config ProbeConfig
}

// NewProbe creates a probe with the given limits
func NewProbe(config ProbeConfig) *Probe {
	def := DefaultProbeConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxScripts <= 0 {
		config.MaxScripts = def.MaxScripts
	}
	if config.MaxScriptBytes <= 0 {
		config.MaxScriptBytes = def.MaxScriptBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	return &Probe{config: config}
}

const browserPrelude = `
var window = this, self = this, top = this, parent = this, frames = this;
var __historyUsed = false;
var __stub = (function () {
  var handler = {
    get: function (t, k) {
      if (k === Symbol.toPrimitive) { return function () { return ""; }; }
      if (k === "then") { return undefined; }
      return __stub;
    },
    set: function () { return true; },
    apply: function () { return __stub; },
    construct: function () { return __stub; }
  };
  return new Proxy(function () {}, handler);
})();
function __noop() {}
var document = __stub;
var console = { log: __noop, info: __noop, warn: __noop, error: __noop, debug: __noop };
var history = {
  state: null, length: 1,
  pushState: function () { __historyUsed = true; },
  replaceState: function () { __historyUsed = true; },
  back: __noop, forward: __noop, go: __noop
};
function addEventListener(type) { if (type === "popstate" || type === "hashchange") { __historyUsed = true; } }
function removeEventListener() {}
function dispatchEvent() { return true; }
function setTimeout() { return 0; }
function setInterval() { return 0; }
function clearTimeout() {}
function clearInterval() {}
function requestAnimationFrame() { return 0; }
function cancelAnimationFrame() {}
function queueMicrotask() {}
function fetch() { return new Promise(function () {}); }
function matchMedia() { return { matches: false, addListener: __noop, removeListener: __noop, addEventListener: __noop }; }
function getComputedStyle() { return __stub; }
function __observer() { return { observe: __noop, unobserve: __noop, disconnect: __noop }; }
var MutationObserver = __observer, IntersectionObserver = __observer, ResizeObserver = __observer;
var localStorage = { getItem: function () { return null; }, setItem: __noop, removeItem: __noop, clear: __noop };
var sessionStorage = localStorage;
var performance = { now: function () { return 0; }, mark: __noop, measure: __noop };
var customElements = { define: __noop, get: function () { return undefined; } };
var XMLHttpRequest = function () { return __stub; };
`

var scriptTypes = map[string]bool{
	"":                       true,
	"text/javascript":        true,
	"application/javascript": true,
	"application/ecmascript": true,
	"text/ecmascript":        true,
}

// Run evaluates doc's inline scripts. Script errors are counted, not returned.
func (p *Probe) Run(ctx context.Context, doc *goquery.Document, pageURL *url.URL) ProbeResult {
	result := ProbeResult{Globals: make(map[string]string)}

	// JSON data islands like __NEXT_DATA__ become globals when the page boots
	doc.Find(`script[type="application/json"][id]`).Each(func(_ int, s *goquery.Selection) {
		if id, _ := s.Attr("id"); strings.HasPrefix(id, "__") {
			result.Globals[id] = "[object]"
		}
	})

	var scripts []string
	doc.Find("script:not([src])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		typ, _ := s.Attr("type")
		if !scriptTypes[strings.ToLower(strings.TrimSpace(typ))] {
			return true
		}
		code := s.Text()
		if strings.TrimSpace(code) == "" || len(code) > p.config.MaxScriptBytes {
			return true
		}
		scripts = append(scripts, code)
		return len(scripts) < p.config.MaxScripts
	})
	if len(scripts) == 0 {
		return result
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	if err := p.setupGlobals(vm, pageURL); err != nil {
		return result
	}

	baseline := make(map[string]bool)
	for _, k := range vm.GlobalObject().Keys() {
		baseline[k] = true
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timer.C:
			vm.Interrupt("probe timeout exceeded")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	for _, code := range scripts {
		_, err := vm.RunString(code)
		if err == nil {
			result.Executed++
			continue
		}
		if _, ok := err.(*goja.InterruptedError); ok {
			result.Interrupted = true
			break
		}
		result.Failed++
	}
	close(done)
	wg.Wait()
	vm.ClearInterrupt()

	global := vm.GlobalObject()
	for _, k := range global.Keys() {
		if baseline[k] {
			continue
		}
		exportGlobal(result.Globals, k, global.Get(k))
	}
	if used := global.Get("__historyUsed"); used != nil && used.ToBoolean() {
		result.HistoryAPI = true
		result.Globals[HistoryGlobal] = "true"
	}
	return result
}

func (p *Probe) setupGlobals(vm *goja.Runtime, pageURL *url.URL) error {
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	if _, err := vm.RunString(browserPrelude); err != nil {
		return err
	}

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", p.config.UserAgent)
	_ = navigator.Set("language", "en-US")
	_ = navigator.Set("languages", []string{"en-US", "en"})
	_ = navigator.Set("onLine", true)
	vm.Set("navigator", navigator)

	location := vm.NewObject()
	if pageURL != nil {
		_ = location.Set("href", pageURL.String())
		_ = location.Set("protocol", pageURL.Scheme+":")
		_ = location.Set("host", pageURL.Host)
		_ = location.Set("hostname", pageURL.Hostname())
		_ = location.Set("pathname", pageURL.EscapedPath())
		_ = location.Set("search", searchOf(pageURL))
		_ = location.Set("hash", fragmentOf(pageURL))
		_ = location.Set("origin", pageURL.Scheme+"://"+pageURL.Host)
	}
	vm.Set("location", location)
	return nil
}

func searchOf(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func fragmentOf(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}

const maxGlobalValue = 64

func exportGlobal(out map[string]string, name string, v goja.Value) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		out[name] = ""
		return
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		s := v.String()
		if len(s) > maxGlobalValue {
			s = s[:maxGlobalValue]
		}
		out[name] = s
		return
	}
	if _, callable := goja.AssertFunction(v); callable {
		out[name] = "[function]"
	} else {
		out[name] = "[object]"
	}
	for _, prop := range []string{"version", "VERSION"} {
		pv := obj.Get(prop)
		if pv == nil || goja.IsUndefined(pv) || goja.IsNull(pv) {
			continue
		}
		if _, isObj := pv.(*goja.Object); isObj {
			continue
		}
		if s := pv.String(); s != "" && len(s) <= maxGlobalValue {
			out[name+"."+prop] = s
		}
	}
}
