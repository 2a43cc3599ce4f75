package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// MutationType mirrors MutationRecord.type
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// Mutation is one change to the live tree.
type Mutation struct {
	Type      MutationType
	Target    *html.Node
	Added     []*html.Node
	Removed   []*html.Node
	Attribute string
}

// ObserveOptions scopes an observer.
type ObserveOptions struct {
	// Root limits observation to subtrees matching this selector. Empty observes the document.
	Root string
	// IgnoredSelectors drops mutations whose target has a matching ancestor-or-self.
	IgnoredSelectors []string
}

type observer struct {
	root    cascadia.Selector
	ignored []cascadia.Selector
	fn      func([]Mutation)
}

func (o *observer) qualifies(m Mutation) bool {
	if m.Target == nil || m.Target.Type == html.DocumentNode {
		return true
	}
	inRoot := o.root == nil
	for n := m.Target; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, ig := range o.ignored {
			if ig.Match(n) {
				return false
			}
		}
		if !inRoot && o.root.Match(n) {
			inRoot = true
		}
	}
	return inRoot
}

// Observe registers fn for qualifying mutations. fn runs on the mutating
// goroutine after the document lock is released; it must not block.
func (d *Document) Observe(opts ObserveOptions, fn func([]Mutation)) (cancel func(), err error) {
	o := &observer{fn: fn}
	if opts.Root != "" {
		sel, err := cascadia.Compile(opts.Root)
		if err != nil {
			return nil, fmt.Errorf("invalid root selector %q: %w", opts.Root, err)
		}
		o.root = sel
	}
	for _, s := range opts.IgnoredSelectors {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid ignored selector %q: %w", s, err)
		}
		o.ignored = append(o.ignored, sel)
	}

	d.mu.Lock()
	id := d.nextHandle
	d.nextHandle++
	d.observers[id] = o
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}, nil
}

// ObserverCount returns the number of registered observers
func (d *Document) ObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// mutate runs change under the write lock and dispatches the records it returns.
func (d *Document) mutate(change func() ([]Mutation, error)) error {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return ErrDetached
	}
	records, err := change()
	if err != nil || len(records) == 0 {
		d.mu.Unlock()
		return err
	}
	d.version++

	type delivery struct {
		fn      func([]Mutation)
		records []Mutation
	}
	var deliveries []delivery
	for _, o := range d.observers {
		var matched []Mutation
		for _, m := range records {
			if o.qualifies(m) {
				matched = append(matched, m)
			}
		}
		if len(matched) > 0 {
			deliveries = append(deliveries, delivery{fn: o.fn, records: matched})
		}
	}
	d.mu.Unlock()

	for _, dl := range deliveries {
		dl.fn(dl.records)
	}
	return nil
}

func (d *Document) matches(selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return cascadia.QueryAll(d.root, sel), nil
}

// SetInnerHTML replaces the children of every element matching selector.
// It returns the number of elements changed.
func (d *Document) SetInnerHTML(selector, markup string) (int, error) {
	count := 0
	err := d.mutate(func() ([]Mutation, error) {
		targets, err := d.matches(selector)
		if err != nil {
			return nil, err
		}
		var records []Mutation
		for _, t := range targets {
			added, err := parseFragment(t, markup)
			if err != nil {
				return nil, err
			}
			var removed []*html.Node
			for c := t.FirstChild; c != nil; {
				next := c.NextSibling
				t.RemoveChild(c)
				removed = append(removed, c)
				c = next
			}
			for _, n := range added {
				t.AppendChild(n)
			}
			records = append(records, Mutation{Type: MutationChildList, Target: t, Added: added, Removed: removed})
			count++
		}
		return records, nil
	})
	return count, err
}

// AppendHTML appends markup to every element matching selector.
func (d *Document) AppendHTML(selector, markup string) (int, error) {
	count := 0
	err := d.mutate(func() ([]Mutation, error) {
		targets, err := d.matches(selector)
		if err != nil {
			return nil, err
		}
		var records []Mutation
		for _, t := range targets {
			added, err := parseFragment(t, markup)
			if err != nil {
				return nil, err
			}
			for _, n := range added {
				t.AppendChild(n)
			}
			records = append(records, Mutation{Type: MutationChildList, Target: t, Added: added})
			count++
		}
		return records, nil
	})
	return count, err
}

// SetText replaces the children of matching elements with a single text node.
func (d *Document) SetText(selector, text string) (int, error) {
	count := 0
	err := d.mutate(func() ([]Mutation, error) {
		targets, err := d.matches(selector)
		if err != nil {
			return nil, err
		}
		var records []Mutation
		for _, t := range targets {
			for c := t.FirstChild; c != nil; {
				next := c.NextSibling
				t.RemoveChild(c)
				c = next
			}
			t.AppendChild(&html.Node{Type: html.TextNode, Data: text})
			records = append(records, Mutation{Type: MutationCharacterData, Target: t})
			count++
		}
		return records, nil
	})
	return count, err
}

// Remove detaches every element matching selector.
func (d *Document) Remove(selector string) (int, error) {
	count := 0
	err := d.mutate(func() ([]Mutation, error) {
		targets, err := d.matches(selector)
		if err != nil {
			return nil, err
		}
		var records []Mutation
		for _, t := range targets {
			parent := t.Parent
			if parent == nil || !isDescendant(d.root, t) {
				continue
			}
			parent.RemoveChild(t)
			records = append(records, Mutation{Type: MutationChildList, Target: parent, Removed: []*html.Node{t}})
			count++
		}
		return records, nil
	})
	return count, err
}

// RemoveNode detaches n from the live tree.
func (d *Document) RemoveNode(n *html.Node) error {
	return d.mutate(func() ([]Mutation, error) {
		if n == nil || n.Parent == nil || !isDescendant(d.root, n) {
			return nil, nil
		}
		parent := n.Parent
		parent.RemoveChild(n)
		return []Mutation{{Type: MutationChildList, Target: parent, Removed: []*html.Node{n}}}, nil
	})
}

// SetAttr sets an attribute on a live node.
func (d *Document) SetAttr(n *html.Node, key, val string) error {
	return d.mutate(func() ([]Mutation, error) {
		if !isDescendant(d.root, n) {
			return nil, nil
		}
		if old, ok := attr(n, key); ok && old == val {
			return nil, nil
		}
		setAttr(n, key, val)
		return []Mutation{{Type: MutationAttributes, Target: n, Attribute: key}}, nil
	})
}

// AddClass adds a class to a live node. Detached nodes are ignored.
func (d *Document) AddClass(n *html.Node, class string) error {
	return d.mutate(func() ([]Mutation, error) {
		if n == nil || n.Type != html.ElementNode {
			return nil, nil
		}
		d.localClasses[class] = true
		classes := strings.Fields(attrOr(n, "class"))
		for _, c := range classes {
			if c == class {
				return nil, nil
			}
		}
		setAttr(n, "class", strings.Join(append(classes, class), " "))
		if !isDescendant(d.root, n) {
			return nil, nil
		}
		return []Mutation{{Type: MutationAttributes, Target: n, Attribute: "class"}}, nil
	})
}

// RemoveClass removes a class from a node, attached or not.
func (d *Document) RemoveClass(n *html.Node, class string) error {
	return d.mutate(func() ([]Mutation, error) {
		if n == nil || n.Type != html.ElementNode {
			return nil, nil
		}
		classes := strings.Fields(attrOr(n, "class"))
		kept := classes[:0]
		found := false
		for _, c := range classes {
			if c == class {
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			return nil, nil
		}
		if len(kept) == 0 {
			removeAttr(n, "class")
		} else {
			setAttr(n, "class", strings.Join(kept, " "))
		}
		if !isDescendant(d.root, n) {
			return nil, nil
		}
		return []Mutation{{Type: MutationAttributes, Target: n, Attribute: "class"}}, nil
	})
}

// Replace brings the tree in line with freshly parsed markup, as when a
// rendered page is re-read from a browser. Nodes whose kind and position did
// not change are kept and updated in place, so records name only the changed
// elements and observer scopes still apply. Classes applied with AddClass are
// kept. Identical markup produces no records.
func (d *Document) Replace(markup string) error {
	fresh, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse replacement: %w", err)
	}
	return d.mutate(func() ([]Mutation, error) {
		return d.reconcile(d.root, fresh), nil
	})
}

func parseFragment(parent *html.Node, markup string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}
