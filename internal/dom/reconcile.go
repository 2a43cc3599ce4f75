package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// reconcile updates old in place to match fresh and returns records scoped to
// the nodes that changed. old and fresh must be of the same kind.
func (d *Document) reconcile(old, fresh *html.Node) []Mutation {
	var records []Mutation
	switch old.Type {
	case html.TextNode, html.CommentNode:
		if old.Data != fresh.Data {
			old.Data = fresh.Data
			records = append(records, Mutation{Type: MutationCharacterData, Target: old})
		}
		return records
	case html.ElementNode:
		if key := d.syncAttrs(old, fresh); key != "" {
			records = append(records, Mutation{Type: MutationAttributes, Target: old, Attribute: key})
		}
	}
	return append(records, d.reconcileChildren(old, fresh)...)
}

// reconcileChildren keeps the matching prefix and suffix of the child lists and
// swaps the differing middle for the fresh nodes.
func (d *Document) reconcileChildren(old, fresh *html.Node) []Mutation {
	have, want := children(old), children(fresh)

	prefix := 0
	for prefix < len(have) && prefix < len(want) && sameKind(have[prefix], want[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < len(have)-prefix && suffix < len(want)-prefix &&
		sameKind(have[len(have)-1-suffix], want[len(want)-1-suffix]) {
		suffix++
	}

	var records []Mutation
	removed := append([]*html.Node(nil), have[prefix:len(have)-suffix]...)
	added := append([]*html.Node(nil), want[prefix:len(want)-suffix]...)
	if len(removed) > 0 || len(added) > 0 {
		var before *html.Node
		if suffix > 0 {
			before = have[len(have)-suffix]
		}
		for _, n := range removed {
			old.RemoveChild(n)
		}
		for _, n := range added {
			fresh.RemoveChild(n)
			old.InsertBefore(n, before)
		}
		records = append(records, Mutation{Type: MutationChildList, Target: old, Added: added, Removed: removed})
	}

	for i := 0; i < prefix; i++ {
		records = append(records, d.reconcile(have[i], want[i])...)
	}
	for i := 0; i < suffix; i++ {
		records = append(records, d.reconcile(have[len(have)-1-i], want[len(want)-1-i])...)
	}
	return records
}

// syncAttrs copies fresh's attributes onto old, keeping classes applied with
// AddClass. It returns the first changed key, or "".
func (d *Document) syncAttrs(old, fresh *html.Node) string {
	target := &html.Node{Attr: append([]html.Attribute(nil), fresh.Attr...)}

	var local []string
	for _, c := range strings.Fields(attrOr(old, "class")) {
		if d.localClasses[c] && !HasClass(fresh, c) {
			local = append(local, c)
		}
	}
	if len(local) > 0 {
		classes := append(strings.Fields(attrOr(fresh, "class")), local...)
		setAttr(target, "class", strings.Join(classes, " "))
	}

	key := changedAttr(old.Attr, target.Attr)
	if key != "" {
		old.Attr = target.Attr
	}
	return key
}

func changedAttr(have, want []html.Attribute) string {
	index := make(map[string]string, len(have))
	for _, a := range have {
		index[a.Namespace+":"+a.Key] = a.Val
	}
	for _, a := range want {
		k := a.Namespace + ":" + a.Key
		if v, ok := index[k]; !ok || v != a.Val {
			return a.Key
		}
		delete(index, k)
	}
	for _, a := range have {
		if _, ok := index[a.Namespace+":"+a.Key]; ok {
			return a.Key
		}
	}
	return ""
}

func sameKind(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case html.ElementNode:
		return a.Data == b.Data && a.Namespace == b.Namespace
	case html.DoctypeNode:
		return a.Data == b.Data
	}
	return true
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}
