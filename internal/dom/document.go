// Package dom holds the live document every extraction component works
// against. A Document wraps an x/net/html tree behind a lock, reports
// mutations to observers the way a browser MutationObserver does, and hands
// out deep-copied snapshots so extractors never touch the live tree.
package dom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ReadyState mirrors document.readyState
type ReadyState string

const (
	StateLoading     ReadyState = "loading"
	StateInteractive ReadyState = "interactive"
	StateComplete    ReadyState = "complete"
)

// ErrDetached is returned once a document has been unloaded
var ErrDetached = errors.New("document detached")

// Document is a concurrency-safe live HTML document.
type Document struct {
	mu         sync.RWMutex
	root       *html.Node
	pageURL    *url.URL
	rawURL     string
	readyState ReadyState
	globals    map[string]string
	version    uint64
	detached   bool

	observers  map[int]*observer
	unload     map[int]func()
	nextHandle int

	// localClasses were applied with AddClass and survive Replace
	localClasses map[string]bool

	// session holds at most one token: one extraction or selection session at a time
	session chan struct{}
	ownerMu sync.Mutex
	owner   string
}

// New wraps an already parsed tree.
func New(root *html.Node, pageURL string) *Document {
	if root == nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	d := &Document{
		root:       root,
		rawURL:     pageURL,
		readyState: StateComplete,
		globals:    make(map[string]string),
		observers:  make(map[int]*observer),
		unload:     make(map[int]func()),
		session:    make(chan struct{}, 1),

		localClasses: make(map[string]bool),
	}
	if u, err := url.Parse(pageURL); err == nil && pageURL != "" {
		d.pageURL = u
	}
	return d
}

// URL returns the parsed page URL, or nil when the document has none.
func (d *Document) URL() *url.URL {
	if d.pageURL == nil {
		return nil
	}
	u := *d.pageURL
	return &u
}

// RawURL returns the page URL as given
func (d *Document) RawURL() string { return d.rawURL }

// ReadyState returns the current loading state
func (d *Document) ReadyState() ReadyState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readyState
}

// SetReadyState updates the loading state. It is not reported as a mutation.
func (d *Document) SetReadyState(s ReadyState) {
	d.mu.Lock()
	d.readyState = s
	d.mu.Unlock()
}

// Globals returns a copy of the runtime globals known for the page.
// Keys are global names (dotted for nested values), values their string form.
func (d *Document) Globals() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.globals))
	for k, v := range d.globals {
		out[k] = v
	}
	return out
}

// SetGlobals merges runtime globals into the document
func (d *Document) SetGlobals(globals map[string]string) {
	d.mu.Lock()
	for k, v := range globals {
		d.globals[k] = v
	}
	d.mu.Unlock()
}

// Version increases with every mutation.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Detached reports whether the document has been unloaded
func (d *Document) Detached() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.detached
}

// Snapshot returns a deep copy of the tree that callers may freely mutate.
func (d *Document) Snapshot() (*html.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.detached {
		return nil, ErrDetached
	}
	return cloneTree(d.root), nil
}

// SnapshotDocument is Snapshot wrapped in a goquery document.
func (d *Document) SnapshotDocument() (*goquery.Document, error) {
	root, err := d.Snapshot()
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Url = d.URL()
	return doc, nil
}

// Read runs fn against the live tree under a read lock. fn must not keep
// references to the selection after it returns, nor mutate it.
func (d *Document) Read(fn func(doc *goquery.Document)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.detached {
		return ErrDetached
	}
	fn(goquery.NewDocumentFromNode(d.root))
	return nil
}

// HTML renders the live document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return b.String(), nil
}

// NodeCount returns the number of element nodes in the document
func (d *Document) NodeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			count++
		}
		return true
	})
	return count
}

// BodyTextLength returns the visible text length of <body>
func (d *Document) BodyTextLength() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	body := findElement(d.root, "body")
	if body == nil {
		return 0
	}
	return len([]rune(strings.TrimSpace(VisibleText(body))))
}

// Contains reports whether n is still attached to the live tree
func (d *Document) Contains(n *html.Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return isDescendant(d.root, n)
}

// OnUnload registers fn to run when the document is unloaded.
func (d *Document) OnUnload(fn func()) (cancel func()) {
	d.mu.Lock()
	id := d.nextHandle
	d.nextHandle++
	d.unload[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.unload, id)
		d.mu.Unlock()
	}
}

// UnloadListenerCount returns the number of registered unload listeners
func (d *Document) UnloadListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.unload)
}

// Unload detaches the document (navigation away) and fires unload listeners.
func (d *Document) Unload() {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return
	}
	d.detached = true
	listeners := make([]func(), 0, len(d.unload))
	for _, fn := range d.unload {
		listeners = append(listeners, fn)
	}
	d.unload = make(map[int]func())
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Acquire takes the document's session slot, waiting until the current owner
// releases it or ctx is done. The returned release func is idempotent.
func (d *Document) Acquire(ctx context.Context, owner string) (release func(), err error) {
	select {
	case d.session <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for document session held by %q: %w", d.Owner(), ctx.Err())
	}

	d.ownerMu.Lock()
	d.owner = owner
	d.ownerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.ownerMu.Lock()
			d.owner = ""
			d.ownerMu.Unlock()
			<-d.session
		})
	}, nil
}

// Owner returns the current session owner, empty when free
func (d *Document) Owner() string {
	d.ownerMu.Lock()
	defer d.ownerMu.Unlock()
	return d.owner
}

func cloneTree(n *html.Node) *html.Node {
	return goquery.NewDocumentFromNode(n).Selection.Clone().Get(0)
}
