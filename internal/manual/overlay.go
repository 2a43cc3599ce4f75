package manual

import (
	"extract-main-content/internal/dom"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Classes mirrored onto the live tree while a session is active
const (
	ClassCandidate = "extract-candidate"
	ClassHover     = "extract-hover"
	ClassFocused   = "extract-focused"
	ClassSelected  = "extract-selected"
)

// overlay owns every mark the session applied. Marks are keyed by candidate
// index so they can be cleared even after the node left the tree.
type overlay struct {
	doc    *dom.Document
	nodes  map[int]*html.Node
	marks  map[int]map[string]bool
	logger *zap.Logger
}

func newOverlay(doc *dom.Document, logger *zap.Logger) *overlay {
	return &overlay{
		doc:    doc,
		nodes:  make(map[int]*html.Node),
		marks:  make(map[int]map[string]bool),
		logger: logger,
	}
}

func (o *overlay) track(i int, n *html.Node) {
	o.nodes[i] = n
}

// retarget moves candidate i's marks from its detached node onto n
func (o *overlay) retarget(i int, n *html.Node) {
	prev := o.nodes[i]
	o.nodes[i] = n
	for class := range o.marks[i] {
		if prev != nil {
			if err := o.doc.RemoveClass(prev, class); err != nil {
				o.logger.Debug("overlay mark not cleared", zap.Int("candidate", i), zap.Error(err))
			}
		}
		if err := o.doc.AddClass(n, class); err != nil {
			o.logger.Debug("overlay mark not moved", zap.Int("candidate", i), zap.String("class", class), zap.Error(err))
		}
	}
}

func (o *overlay) set(i int, class string, on bool) {
	n, ok := o.nodes[i]
	if !ok {
		return
	}
	tags := o.marks[i]
	if tags == nil {
		tags = make(map[string]bool)
		o.marks[i] = tags
	}
	if tags[class] == on {
		return
	}

	var err error
	if on {
		err = o.doc.AddClass(n, class)
		tags[class] = true
	} else {
		err = o.doc.RemoveClass(n, class)
		delete(tags, class)
	}
	if err != nil {
		o.logger.Debug("overlay mark not mirrored", zap.Int("candidate", i), zap.String("class", class), zap.Error(err))
	}
}

func (o *overlay) has(i int, class string) bool {
	return o.marks[i][class]
}

// count returns how many candidates carry class
func (o *overlay) count(class string) int {
	total := 0
	for _, tags := range o.marks {
		if tags[class] {
			total++
		}
	}
	return total
}

// clear removes every mark, attached or not
func (o *overlay) clear() {
	for i, tags := range o.marks {
		for class := range tags {
			if err := o.doc.RemoveClass(o.nodes[i], class); err != nil {
				o.logger.Debug("overlay mark not cleared", zap.Int("candidate", i), zap.Error(err))
			}
		}
	}
	o.marks = make(map[int]map[string]bool)
	o.nodes = make(map[int]*html.Node)
}
