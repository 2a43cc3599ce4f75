package spa

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Framework names reported by Detect
const (
	FrameworkNext      = "nextjs"
	FrameworkNuxt      = "nuxt"
	FrameworkGatsby    = "gatsby"
	FrameworkSvelteKit = "sveltekit"
	FrameworkReact     = "react"
	FrameworkVue       = "vue"
	FrameworkAngular   = "angular"
	FrameworkSvelte    = "svelte"
	FrameworkEmber     = "ember"
	FrameworkUnknown   = "unknown"
)

// signal is one piece of evidence for a framework. Exactly one matcher field is set.
type signal struct {
	weight       float64
	selector     string // element present
	global       string // runtime global present (or any "global." key)
	globalPrefix string // runtime global name starting with this
	asset        string // substring of a script src or link href
	attrPrefix   string // attribute name prefix on any element
	classPrefix  string // class token prefix on any element
}

type framework struct {
	name    string
	signals []signal
	version func(doc *goquery.Document, globals map[string]string) string
}

var generatorVersion = regexp.MustCompile(`(\d+(?:\.\d+)*)`)

func globalVersion(key string) func(*goquery.Document, map[string]string) string {
	return func(_ *goquery.Document, globals map[string]string) string {
		return globals[key]
	}
}

func generatorMeta(prefix string) func(*goquery.Document, map[string]string) string {
	return func(doc *goquery.Document, _ map[string]string) string {
		content, _ := doc.Find(`meta[name="generator"]`).Attr("content")
		if !strings.HasPrefix(strings.ToLower(content), strings.ToLower(prefix)) {
			return ""
		}
		return generatorVersion.FindString(content)
	}
}

// frameworks is checked in order. Meta-frameworks come before the library they
// build on so a Next.js page is not reported as plain React.
var frameworks = []framework{
	{
		name: FrameworkNext,
		signals: []signal{
			{weight: 0.4, selector: "#__next"},
			{weight: 0.4, selector: "script#__NEXT_DATA__"},
			{weight: 0.3, global: "__NEXT_DATA__"},
			{weight: 0.2, global: "next"},
			{weight: 0.3, asset: "/_next/"},
		},
		version: func(doc *goquery.Document, globals map[string]string) string {
			if v := globals["next.version"]; v != "" {
				return v
			}
			return generatorMeta("next.js")(doc, globals)
		},
	},
	{
		name: FrameworkNuxt,
		signals: []signal{
			{weight: 0.4, selector: "#__nuxt"},
			{weight: 0.4, global: "__NUXT__"},
			{weight: 0.2, global: "$nuxt"},
			{weight: 0.3, asset: "/_nuxt/"},
		},
		version: generatorMeta("nuxt"),
	},
	{
		name: FrameworkGatsby,
		signals: []signal{
			{weight: 0.5, selector: "#___gatsby"},
			{weight: 0.3, global: "___loader"},
			{weight: 0.3, selector: `meta[name="generator"][content^="Gatsby"]`},
			{weight: 0.2, asset: "/page-data/"},
		},
		version: generatorMeta("gatsby"),
	},
	{
		name: FrameworkSvelteKit,
		signals: []signal{
			{weight: 0.4, globalPrefix: "__sveltekit"},
			{weight: 0.4, asset: "/_app/immutable/"},
			{weight: 0.3, attrPrefix: "data-sveltekit-"},
		},
	},
	{
		name: FrameworkReact,
		signals: []signal{
			{weight: 0.4, selector: "[data-reactroot]"},
			{weight: 0.2, selector: "#root"},
			{weight: 0.3, global: "React"},
			{weight: 0.2, global: "ReactDOM"},
			{weight: 0.3, global: "__REACT_DEVTOOLS_GLOBAL_HOOK__"},
			{weight: 0.2, asset: "react-dom"},
		},
		version: globalVersion("React.version"),
	},
	{
		name: FrameworkVue,
		signals: []signal{
			{weight: 0.4, selector: "[data-v-app]"},
			{weight: 0.3, attrPrefix: "data-v-"},
			{weight: 0.3, global: "Vue"},
			{weight: 0.3, global: "__VUE__"},
			{weight: 0.2, global: "__VUE_DEVTOOLS_GLOBAL_HOOK__"},
			{weight: 0.1, selector: "#app"},
		},
		version: globalVersion("Vue.version"),
	},
	{
		name: FrameworkAngular,
		signals: []signal{
			{weight: 0.5, selector: "[ng-version]"},
			{weight: 0.2, selector: "app-root"},
			{weight: 0.3, global: "ng"},
			{weight: 0.3, global: "getAllAngularRootElements"},
			{weight: 0.3, attrPrefix: "_ngcontent-"},
		},
		version: func(doc *goquery.Document, _ map[string]string) string {
			v, _ := doc.Find("[ng-version]").First().Attr("ng-version")
			return v
		},
	},
	{
		name: FrameworkSvelte,
		signals: []signal{
			{weight: 0.4, classPrefix: "svelte-"},
			{weight: 0.3, global: "__svelte"},
			{weight: 0.2, asset: "svelte"},
		},
	},
	{
		name: FrameworkEmber,
		signals: []signal{
			{weight: 0.4, selector: ".ember-application"},
			{weight: 0.4, global: "Ember"},
			{weight: 0.3, selector: `meta[name$="/config/environment"]`},
			{weight: 0.2, selector: "[id^=ember]"},
		},
		version: globalVersion("Ember.VERSION"),
	},
}

// pageFacts are computed once per detection and shared by every signal
type pageFacts struct {
	doc        *goquery.Document
	globals    map[string]string
	assets     []string
	attrNames  map[string]bool
	classNames map[string]bool
}

func collectFacts(doc *goquery.Document, globals map[string]string) *pageFacts {
	f := &pageFacts{
		doc:        doc,
		globals:    globals,
		attrNames:  make(map[string]bool),
		classNames: make(map[string]bool),
	}
	doc.Find("script[src], link[href]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			f.assets = append(f.assets, src)
		}
		if href, ok := s.Attr("href"); ok {
			f.assets = append(f.assets, href)
		}
	})
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				f.attrNames[a.Key] = true
				if a.Key == "class" {
					for _, c := range strings.Fields(a.Val) {
						f.classNames[c] = true
					}
				}
			}
		}
	})
	return f
}

func (f *pageFacts) matches(s signal) bool {
	switch {
	case s.selector != "":
		return f.doc.Find(s.selector).Length() > 0
	case s.global != "":
		if _, ok := f.globals[s.global]; ok {
			return true
		}
		for k := range f.globals {
			if strings.HasPrefix(k, s.global+".") {
				return true
			}
		}
	case s.globalPrefix != "":
		for k := range f.globals {
			if strings.HasPrefix(k, s.globalPrefix) {
				return true
			}
		}
	case s.asset != "":
		for _, a := range f.assets {
			if strings.Contains(a, s.asset) {
				return true
			}
		}
	case s.attrPrefix != "":
		for name := range f.attrNames {
			if strings.HasPrefix(name, s.attrPrefix) {
				return true
			}
		}
	case s.classPrefix != "":
		for name := range f.classNames {
			if strings.HasPrefix(name, s.classPrefix) {
				return true
			}
		}
	}
	return false
}
