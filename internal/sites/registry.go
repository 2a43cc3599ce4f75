// Package sites holds specialized extractors for well-known site families and
// the priority-ordered registry the pipeline consults before generic extraction.
package sites

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"extract-main-content/internal/logging"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExtractedContent is what a site extractor recovered from a page
type ExtractedContent struct {
	Title     string
	Text      string
	HTML      string
	Extractor string
	Metadata  map[string]any
}

// Extractor is a specialized transform for one site family. Extract receives a
// private snapshot it may modify, and returns nil when the page is not one it
// recognizes or carries too little content.
type Extractor interface {
	Name() string
	Priority() int
	CanHandle(u *url.URL) bool
	Extract(ctx context.Context, doc *goquery.Document, u *url.URL) (*ExtractedContent, error)
}

// Registration defers creating an extractor until a URL first matches it
type Registration struct {
	ID       string
	Priority int
	Matches  func(u *url.URL) bool
	Load     func(ctx context.Context) (Extractor, error)
}

// Registry dispatches a URL to the highest-priority matching extractor.
type Registry struct {
	mu      sync.Mutex
	entries []Registration
	sorted  bool
	cache   map[string]Extractor
	loads   singleflight.Group
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		cache:  make(map[string]Extractor),
		logger: logging.OrNop(logger).Named("sites"),
	}
}

// Register adds an already constructed extractor
func (r *Registry) Register(e Extractor) {
	r.RegisterLazy(Registration{
		ID:       e.Name(),
		Priority: e.Priority(),
		Matches:  e.CanHandle,
		Load:     func(context.Context) (Extractor, error) { return e, nil },
	})
	r.mu.Lock()
	r.cache[e.Name()] = e
	r.mu.Unlock()
}

// RegisterLazy adds a registration whose extractor is loaded on first match
func (r *Registry) RegisterLazy(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, reg)
	r.sorted = false
}

// Len returns the number of registrations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Loaded reports whether the extractor with id has been instantiated
func (r *Registry) Loaded(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[id]
	return ok
}

// GetExtractorForURL returns the first registration matching u in descending
// priority order, loading it if needed. It returns nil when nothing matches.
func (r *Registry) GetExtractorForURL(ctx context.Context, u *url.URL) (Extractor, error) {
	if u == nil {
		return nil, nil
	}
	reg, ok := r.lookup(u)
	if !ok {
		return nil, nil
	}
	return r.load(ctx, reg)
}

// ExtractContent runs the matching extractor. Only the first match is tried:
// when it returns nil, ExtractContent returns nil without consulting
// lower-priority extractors that also match.
func (r *Registry) ExtractContent(ctx context.Context, u *url.URL, doc *goquery.Document) (*ExtractedContent, error) {
	ext, err := r.GetExtractorForURL(ctx, u)
	if err != nil || ext == nil {
		return nil, err
	}

	content, err := ext.Extract(ctx, doc, u)
	if err != nil {
		return nil, fmt.Errorf("%s extractor: %w", ext.Name(), err)
	}
	if content == nil {
		r.logger.Debug("site extractor found nothing", zap.String("extractor", ext.Name()), zap.String("url", u.String()))
		return nil, nil
	}
	content.Extractor = ext.Name()
	return content, nil
}

func (r *Registry) lookup(u *url.URL) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sorted {
		sort.SliceStable(r.entries, func(i, j int) bool {
			return r.entries[i].Priority > r.entries[j].Priority
		})
		r.sorted = true
	}
	for _, reg := range r.entries {
		if reg.Matches(u) {
			return reg, true
		}
	}
	return Registration{}, false
}

func (r *Registry) load(ctx context.Context, reg Registration) (Extractor, error) {
	r.mu.Lock()
	if e, ok := r.cache[reg.ID]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	v, err, _ := r.loads.Do(reg.ID, func() (interface{}, error) {
		r.mu.Lock()
		if e, ok := r.cache[reg.ID]; ok {
			r.mu.Unlock()
			return e, nil
		}
		r.mu.Unlock()

		e, err := reg.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load extractor %s: %w", reg.ID, err)
		}
		r.mu.Lock()
		r.cache[reg.ID] = e
		r.mu.Unlock()
		r.logger.Debug("site extractor loaded", zap.String("extractor", reg.ID))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Extractor), nil
}

// Default returns a registry with every built-in extractor registered lazily
func Default(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, reg := range builtins() {
		r.RegisterLazy(reg)
	}
	return r
}

func builtins() []Registration {
	return []Registration{
		{ID: githubName, Priority: githubPriority, Matches: isGitHub, Load: func(context.Context) (Extractor, error) { return newGitHub(), nil }},
		{ID: stackExchangeName, Priority: stackExchangePriority, Matches: isStackExchange, Load: func(context.Context) (Extractor, error) { return newStackExchange(), nil }},
		{ID: redditName, Priority: redditPriority, Matches: isReddit, Load: func(context.Context) (Extractor, error) { return newReddit(), nil }},
		{ID: hackerNewsName, Priority: hackerNewsPriority, Matches: isHackerNews, Load: func(context.Context) (Extractor, error) { return newHackerNews(), nil }},
		{ID: docsName, Priority: docsPriority, Matches: isDocsPortal, Load: func(context.Context) (Extractor, error) { return newDocs(), nil }},
		{ID: wikipediaName, Priority: wikipediaPriority, Matches: isWikipedia, Load: func(context.Context) (Extractor, error) { return newWikipedia(), nil }},
	}
}
