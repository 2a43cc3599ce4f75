// Package manual implements the interactive last-resort selection mode: the
// host drives a Session with pointer and keyboard events and receives the same
// result shape the automated methods produce.
package manual

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// State of a selection session
type State string

const (
	StateInactive  State = "inactive"
	StateActive    State = "active"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
)

// Key is a keyboard command
type Key string

const (
	KeyTab      Key = "Tab"
	KeyShiftTab Key = "Shift+Tab"
	KeySpace    Key = "Space"
	KeyEnter    Key = "Enter"
	KeyEscape   Key = "Escape"
)

// ErrAlreadyActive is returned when Activate is called on an active session
var ErrAlreadyActive = errors.New("selection session already active")

// Modifiers carries pointer modifier keys. Multi is ctrl/cmd-click.
type Modifiers struct {
	Multi bool `json:"multi"`
}

// Preview is the live summary shown next to the confirm control
type Preview struct {
	Count           int    `json:"count"`
	TotalCharacters int    `json:"totalCharacters"`
	Required        int    `json:"required"`
	CanConfirm      bool   `json:"canConfirm"`
	Warning         string `json:"warning,omitempty"`
}

// Options configures a session
type Options struct {
	MinLength        int
	MinCandidateText int
	Geometry         Geometry
	// OnStateChange is called after every transition, outside the session lock
	OnStateChange func(State)
	// OnCandidatesChange receives the candidate list after the live tree added
	// or removed nodes, outside the session lock
	OnCandidatesChange func([]Candidate)
}

// Option mutates Options
type Option func(*Options)

// WithMinLength overrides the confirm floor
func WithMinLength(n int) Option { return func(o *Options) { o.MinLength = n } }

// WithGeometry replaces the default flow layout
func WithGeometry(g Geometry) Option { return func(o *Options) { o.Geometry = g } }

// WithStateHook registers a transition callback
func WithStateHook(fn func(State)) Option { return func(o *Options) { o.OnStateChange = fn } }

// WithCandidatesHook registers a callback for candidate list changes
func WithCandidatesHook(fn func([]Candidate)) Option {
	return func(o *Options) { o.OnCandidatesChange = fn }
}

type dragState struct {
	start Point
	base  map[int]bool
}

// Session is one manual selection over a live document. The zero value is not
// usable; call NewSession.
type Session struct {
	mu     sync.Mutex
	opts   Options
	logger *zap.Logger
	ugc    *bluemonday.Policy

	id         string
	state      State
	outcome    State
	doc        *dom.Document
	candidates []*Candidate
	hostBoxes  map[int]Rect
	selected   map[int]bool
	focused    int
	hovered    int
	drag       *dragState
	overlay    *overlay
	result     *models.ExtractionResult

	release       func()
	stopObserving func()
	stopUnload    func()
}

// NewSession creates an inactive session
func NewSession(logger *zap.Logger, opts ...Option) *Session {
	o := Options{
		MinLength:        models.MinContentLength,
		MinCandidateText: MinCandidateText,
		Geometry:         DefaultFlowLayout(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MinLength <= 0 {
		o.MinLength = models.MinContentLength
	}
	if o.MinCandidateText <= 0 {
		o.MinCandidateText = MinCandidateText
	}
	return &Session{
		opts:    o,
		logger:  logging.OrNop(logger),
		ugc:     bluemonday.UGCPolicy(),
		state:   StateInactive,
		focused: -1,
		hovered: -1,
	}
}

// ID returns the identifier of the current or last activation
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns how the last activation ended, or StateInactive
func (s *Session) Outcome() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Activate takes the document session slot, scans candidates and starts
// tracking mutations. It blocks while another session owns the document.
func (s *Session) Activate(ctx context.Context, doc *dom.Document) error {
	s.mu.Lock()
	if s.state == StateActive {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.mu.Unlock()

	id := ulid.Make().String()
	release, err := doc.Acquire(ctx, "manual:"+id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.id = id
	s.doc = doc
	s.state = StateActive
	s.outcome = StateInactive
	s.result = nil
	s.selected = make(map[int]bool)
	s.hostBoxes = nil
	s.focused, s.hovered = -1, -1
	s.drag = nil
	s.release = release
	s.overlay = newOverlay(doc, s.logger)
	s.candidates = nil

	var found []*Candidate
	if err := doc.Read(func(q *goquery.Document) {
		found = scanCandidates(q.Selection, s.opts.MinCandidateText, nil)
	}); err != nil {
		s.deactivateLocked(StateCancelled)
		s.mu.Unlock()
		return &models.DocumentMutationError{Op: "manual activation", Err: err}
	}
	s.adopt(found)
	s.relayout()

	stop, err := doc.Observe(dom.ObserveOptions{}, s.onMutations)
	if err != nil {
		s.deactivateLocked(StateCancelled)
		s.mu.Unlock()
		return err
	}
	s.stopObserving = stop
	s.stopUnload = doc.OnUnload(func() { _ = s.Cancel() })
	count := len(s.candidates)
	s.mu.Unlock()

	s.logger.Info("manual selection activated",
		zap.String("session", id),
		zap.String("url", doc.RawURL()),
		zap.Int("candidates", count))
	s.notify(StateActive)
	return nil
}

// Candidates returns a copy of the candidate list
func (s *Session) Candidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() []Candidate {
	out := make([]Candidate, len(s.candidates))
	for i, c := range s.candidates {
		out[i] = *c
	}
	return out
}

// Selected returns the selected candidate indexes in ascending order
func (s *Session) Selected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedIndexes()
}

// Focused returns the focused candidate index, or -1
func (s *Session) Focused() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// SetBoxes installs host-measured boxes; they override the computed layout
func (s *Session) SetBoxes(boxes map[int]Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	s.hostBoxes = make(map[int]Rect, len(boxes))
	for i, r := range boxes {
		s.hostBoxes[i] = r
	}
	return nil
}

// Hover moves the hover highlight; -1 clears it
func (s *Session) Hover(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	if i >= 0 && !s.valid(i) {
		return fmt.Errorf("no candidate %d", i)
	}
	if s.hovered >= 0 {
		s.overlay.set(s.hovered, ClassHover, false)
	}
	s.hovered = i
	if i >= 0 {
		s.overlay.set(i, ClassHover, true)
	}
	return nil
}

// Click toggles candidate i. Without Multi every other selection is cleared.
func (s *Session) Click(i int, mods Modifiers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	if !s.valid(i) {
		return fmt.Errorf("no candidate %d", i)
	}

	wasSelected := s.selected[i]
	if !mods.Multi {
		for j := range s.selected {
			if j != i {
				s.setSelected(j, false)
			}
		}
	}
	s.setSelected(i, !wasSelected)
	s.setFocus(i)
	return nil
}

// DragStart begins a rectangle selection. With Multi the current selection is kept.
func (s *Session) DragStart(p Point, mods Modifiers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	base := make(map[int]bool)
	if mods.Multi {
		for i := range s.selected {
			base[i] = true
		}
	}
	s.drag = &dragState{start: p, base: base}
	return nil
}

// DragMove recomputes the selection against the rectangle so far
func (s *Session) DragMove(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	if s.drag == nil {
		return errors.New("no drag in progress")
	}
	s.applyDrag(RectFromPoints(s.drag.start, p))
	return nil
}

// DragEnd applies the final rectangle and ends the gesture
func (s *Session) DragEnd(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	if s.drag == nil {
		return errors.New("no drag in progress")
	}
	s.applyDrag(RectFromPoints(s.drag.start, p))
	s.drag = nil
	return nil
}

// Key handles a keyboard command. Enter confirms and Escape cancels.
func (s *Session) Key(k Key) error {
	switch k {
	case KeyEnter:
		_, err := s.Confirm()
		return err
	case KeyEscape:
		return s.Cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(); err != nil {
		return err
	}
	switch k {
	case KeyTab:
		s.moveFocus(1)
	case KeyShiftTab:
		s.moveFocus(-1)
	case KeySpace:
		if s.focused >= 0 && s.valid(s.focused) {
			s.setSelected(s.focused, !s.selected[s.focused])
		}
	default:
		return fmt.Errorf("unknown key %q", k)
	}
	return nil
}

// Preview summarizes the current selection
func (s *Session) Preview() Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview()
}

// Confirm ends the session with the selected content. It fails, leaving the
// session active, when nothing or too little is selected.
func (s *Session) Confirm() (models.ExtractionResult, error) {
	s.mu.Lock()
	if err := s.requireActive(); err != nil {
		s.mu.Unlock()
		return models.ExtractionResult{}, err
	}

	indexes := s.selectedIndexes()
	if len(indexes) == 0 {
		s.mu.Unlock()
		return models.ExtractionResult{}, &models.ManualSelectionError{Reason: models.SelectionEmpty, Required: s.opts.MinLength}
	}
	text, markup := s.collect(indexes)
	total := utf8.RuneCountInString(text)
	if total < s.opts.MinLength {
		s.mu.Unlock()
		return models.ExtractionResult{}, &models.ManualSelectionError{
			Reason:   models.SelectionBelowMinimum,
			Actual:   total,
			Required: s.opts.MinLength,
		}
	}

	title := ""
	_ = s.doc.Read(func(q *goquery.Document) { title = dom.DocumentTitle(q) })
	result := models.ExtractionResult{
		Success: true,
		Method:  models.MethodManual,
		Content: &models.Content{
			Text:  text,
			Title: title,
			HTML:  s.ugc.Sanitize(markup),
		},
		Metadata: map[string]any{
			"selectionCount":  len(indexes),
			"totalCharacters": total,
			"sessionId":       s.id,
		},
	}
	s.result = &result
	id := s.id
	s.deactivateLocked(StateConfirmed)
	s.mu.Unlock()

	s.logger.Info("manual selection confirmed",
		zap.String("session", id),
		zap.Int("selectionCount", len(indexes)),
		zap.Int("totalCharacters", total))
	s.notify(StateConfirmed)
	return result, nil
}

// Cancel discards the selection and ends the session
func (s *Session) Cancel() error {
	s.mu.Lock()
	if err := s.requireActive(); err != nil {
		s.mu.Unlock()
		return err
	}
	id := s.id
	s.deactivateLocked(StateCancelled)
	s.mu.Unlock()

	s.logger.Info("manual selection cancelled", zap.String("session", id))
	s.notify(StateCancelled)
	return nil
}

// Result returns the confirmed result of the last activation
func (s *Session) Result() (models.ExtractionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return models.ExtractionResult{}, false
	}
	return *s.result, true
}

func (s *Session) requireActive() error {
	if s.state != StateActive {
		return &models.ManualSelectionError{Reason: models.SelectionNotActive}
	}
	return nil
}

func (s *Session) valid(i int) bool {
	return i >= 0 && i < len(s.candidates) && !s.candidates[i].Removed
}

func (s *Session) notify(state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// deactivateLocked detaches listeners, clears every mark and frees the document
func (s *Session) deactivateLocked(outcome State) {
	if s.stopObserving != nil {
		s.stopObserving()
		s.stopObserving = nil
	}
	if s.stopUnload != nil {
		s.stopUnload()
		s.stopUnload = nil
	}
	if s.overlay != nil {
		s.overlay.clear()
	}
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.candidates = nil
	s.selected = nil
	s.hostBoxes = nil
	s.drag = nil
	s.focused, s.hovered = -1, -1
	s.outcome = outcome
	s.state = StateInactive
}

func (s *Session) adopt(found []*Candidate) {
	for _, c := range found {
		c.Index = len(s.candidates)
		c.path = structuralPath(c.node)
		s.candidates = append(s.candidates, c)
		s.overlay.track(c.Index, c.node)
		s.overlay.set(c.Index, ClassCandidate, true)
	}
}

func (s *Session) relayout() {
	nodes := make([]*html.Node, len(s.candidates))
	for i, c := range s.candidates {
		nodes[i] = c.node
	}
	var rects []Rect
	_ = s.doc.Read(func(q *goquery.Document) {
		rects = s.opts.Geometry.Layout(q.Get(0), nodes)
	})
	for i, c := range s.candidates {
		if i < len(rects) {
			c.Box = rects[i]
		}
		if !c.Removed {
			c.path = structuralPath(c.node)
		}
	}
}

func (s *Session) box(i int) Rect {
	if r, ok := s.hostBoxes[i]; ok {
		return r
	}
	return s.candidates[i].Box
}

func (s *Session) setSelected(i int, on bool) {
	if on {
		s.selected[i] = true
	} else {
		delete(s.selected, i)
	}
	s.overlay.set(i, ClassSelected, on)
}

func (s *Session) setFocus(i int) {
	if s.focused >= 0 {
		s.overlay.set(s.focused, ClassFocused, false)
	}
	s.focused = i
	if i >= 0 {
		s.overlay.set(i, ClassFocused, true)
	}
}

// focusOrder lists live candidates by priority, then document order
func (s *Session) focusOrder() []int {
	var order []int
	for i := range s.candidates {
		if s.valid(i) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.candidates[order[a]].Priority > s.candidates[order[b]].Priority
	})
	return order
}

func (s *Session) moveFocus(step int) {
	order := s.focusOrder()
	if len(order) == 0 {
		return
	}
	pos := -1
	for p, i := range order {
		if i == s.focused {
			pos = p
			break
		}
	}
	switch {
	case pos < 0 && step > 0:
		pos = 0
	case pos < 0:
		pos = len(order) - 1
	default:
		pos = (pos + step + len(order)) % len(order)
	}
	s.setFocus(order[pos])
}

// applyDrag selects the innermost candidates intersecting r on top of the drag base
func (s *Session) applyDrag(r Rect) {
	hit := make(map[int]bool)
	for i := range s.candidates {
		if s.valid(i) && s.box(i).Intersects(r) {
			hit[i] = true
		}
	}
	for i := range hit {
		for j := range hit {
			if i != j && isAncestor(s.candidates[i].node, s.candidates[j].node) {
				delete(hit, i)
				break
			}
		}
	}

	want := make(map[int]bool, len(hit)+len(s.drag.base))
	for i := range s.drag.base {
		if s.valid(i) {
			want[i] = true
		}
	}
	for i := range hit {
		want[i] = true
	}
	for i := range s.selected {
		if !want[i] {
			s.setSelected(i, false)
		}
	}
	for i := range want {
		if !s.selected[i] {
			s.setSelected(i, true)
		}
	}
}

func (s *Session) selectedIndexes() []int {
	out := make([]int, 0, len(s.selected))
	for i := range s.selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// collect joins the text and markup of the selection in document order.
// A candidate nested in another selected candidate is only counted once.
func (s *Session) collect(indexes []int) (string, string) {
	var texts, markup []string
	_ = s.doc.Read(func(*goquery.Document) {
		for _, i := range indexes {
			n := s.candidates[i].node
			nested := false
			for _, j := range indexes {
				if j != i && isAncestor(s.candidates[j].node, n) {
					nested = true
					break
				}
			}
			if nested {
				continue
			}
			if t := dom.StructuredText(n); t != "" {
				texts = append(texts, t)
			}
			if h, err := goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection); err == nil {
				markup = append(markup, h)
			}
		}
	})
	return strings.Join(texts, "\n\n"), strings.Join(markup, "\n")
}

func (s *Session) preview() Preview {
	p := Preview{Required: s.opts.MinLength}
	if s.state != StateActive {
		p.Warning = "Selection mode is not active"
		return p
	}
	indexes := s.selectedIndexes()
	p.Count = len(indexes)
	if p.Count == 0 {
		p.Warning = "Select at least one content region"
		return p
	}
	text, _ := s.collect(indexes)
	p.TotalCharacters = utf8.RuneCountInString(text)
	if p.TotalCharacters < s.opts.MinLength {
		p.Warning = fmt.Sprintf("Selected content has %d characters; at least %d are required", p.TotalCharacters, s.opts.MinLength)
		return p
	}
	p.CanConfirm = true
	return p
}

// onMutations keeps the candidate list in step with the live tree. Attribute
// changes, including the session's own marks, are ignored. A region that was
// re-rendered at the same structural path keeps its index and selection.
func (s *Session) onMutations(records []dom.Mutation) {
	var added, removed []*html.Node
	for _, m := range records {
		if m.Type != dom.MutationChildList {
			continue
		}
		added = append(added, m.Added...)
		removed = append(removed, m.Removed...)
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}

	gone := make(map[string]*Candidate)
	for _, c := range s.candidates {
		if c.Removed {
			continue
		}
		for _, r := range removed {
			if c.node == r || isAncestor(r, c.node) {
				c.Removed = true
				gone[c.path] = c
				break
			}
		}
	}

	revived := 0
	if len(added) > 0 {
		known := make(map[*html.Node]bool, len(s.candidates))
		for _, c := range s.candidates {
			if !c.Removed {
				known[c.node] = true
			}
		}
		var found []*Candidate
		_ = s.doc.Read(func(*goquery.Document) {
			for _, n := range added {
				if n.Type != html.ElementNode && n.Type != html.DocumentNode {
					continue
				}
				found = append(found, scanCandidates(goquery.NewDocumentFromNode(n).Selection, s.opts.MinCandidateText, known)...)
			}
		})

		fresh := found[:0]
		for _, f := range found {
			f.path = structuralPath(f.node)
			if old, ok := gone[f.path]; ok && old.Tag == f.Tag {
				s.revive(old, f)
				delete(gone, f.path)
				revived++
				continue
			}
			fresh = append(fresh, f)
		}
		s.adopt(fresh)
	}

	for _, c := range gone {
		if s.selected[c.Index] {
			s.setSelected(c.Index, false)
		}
		if s.focused == c.Index {
			s.setFocus(-1)
		}
		if s.hovered == c.Index {
			s.hovered = -1
		}
	}
	s.relayout()
	s.logger.Debug("manual candidates updated",
		zap.String("session", s.id),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)),
		zap.Int("revived", revived),
		zap.Int("candidates", len(s.candidates)))

	var snapshot []Candidate
	if s.opts.OnCandidatesChange != nil {
		snapshot = s.snapshot()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.opts.OnCandidatesChange(snapshot)
	}
}

// revive points a removed candidate at the node that replaced it and moves
// its marks over
func (s *Session) revive(old, fresh *Candidate) {
	old.node = fresh.node
	old.Removed = false
	old.Priority = fresh.Priority
	old.Length = fresh.Length
	old.Preview = fresh.Preview
	s.overlay.retarget(old.Index, fresh.node)
}
