package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/manual"
	"extract-main-content/internal/models"
	"extract-main-content/internal/scraper"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SelectionChannel names the websocket in MessagePassingError
const SelectionChannel = "selection"

// selectionWriteWait bounds a single frame write
const selectionWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// selectionMessage is a host event. Type selects which other fields apply.
type selectionMessage struct {
	Type string `json:"type"`

	// activate
	URL       string `json:"url,omitempty"`
	HTML      string `json:"html,omitempty"`
	Render    bool   `json:"render,omitempty"`
	MinLength int    `json:"minLength,omitempty"`

	// hover, click
	Index *int `json:"index,omitempty"`
	Multi bool `json:"multi,omitempty"`

	// drag: phase is start, move or end
	Phase string  `json:"phase,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`

	Key   manual.Key          `json:"key,omitempty"`
	Boxes map[int]manual.Rect `json:"boxes,omitempty"`
}

// selectionReply is sent after every handled event
type selectionReply struct {
	Type       string                   `json:"type"`
	SessionID  string                   `json:"sessionId,omitempty"`
	Candidates []manual.Candidate       `json:"candidates,omitempty"`
	Selected   []int                    `json:"selected,omitempty"`
	Focused    *int                     `json:"focused,omitempty"`
	Preview    *manual.Preview          `json:"preview,omitempty"`
	Result     *models.ExtractionResult `json:"result,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
}

// selectionConn is one host connection. It owns at most one session at a time
// and is only touched by the read loop, except for frames pushed when the live
// document changes the candidate list.
type selectionConn struct {
	server  *Server
	conn    *websocket.Conn
	logger  *zap.Logger
	session *manual.Session
	loaded  *scraper.Loaded
	url     string
	started time.Time

	writeMu sync.Mutex
}

// handleSelection upgrades to a websocket and maps host events onto a manual session
func (s *Server) handleSelection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sc := &selectionConn{
		server: s,
		conn:   conn,
		logger: s.logger.With(zap.String("client_ip", c.ClientIP())),
	}
	defer sc.close()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.logger.Debug("selection connection closed", zap.Error(err))
			}
			return
		}

		var msg selectionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			err = &models.MessagePassingError{Channel: SelectionChannel, Err: err}
			if sendErr := sc.fail(err); sendErr != nil {
				return
			}
			continue
		}
		if err := sc.handle(ctx, msg); err != nil {
			if sendErr := sc.fail(err); sendErr != nil {
				return
			}
		}
	}
}

func (sc *selectionConn) handle(ctx context.Context, msg selectionMessage) error {
	switch msg.Type {
	case "ping":
		return sc.send(selectionReply{Type: "pong"})
	case "activate":
		return sc.activate(ctx, msg)
	}

	if sc.session == nil {
		return &models.ManualSelectionError{Reason: models.SelectionNotActive}
	}

	var err error
	switch msg.Type {
	case "hover":
		i := -1
		if msg.Index != nil {
			i = *msg.Index
		}
		err = sc.session.Hover(i)
	case "click":
		if msg.Index == nil {
			return &models.MessagePassingError{Channel: SelectionChannel, Err: errors.New("click without index")}
		}
		err = sc.session.Click(*msg.Index, manual.Modifiers{Multi: msg.Multi})
	case "drag":
		err = sc.drag(msg)
	case "boxes":
		err = sc.session.SetBoxes(msg.Boxes)
	case "key":
		switch msg.Key {
		case manual.KeyEnter:
			return sc.confirm(ctx)
		case manual.KeyEscape:
			return sc.cancel()
		}
		err = sc.session.Key(msg.Key)
	case "confirm":
		return sc.confirm(ctx)
	case "cancel":
		return sc.cancel()
	default:
		return &models.MessagePassingError{Channel: SelectionChannel, Err: fmt.Errorf("unknown message type %q", msg.Type)}
	}
	if err != nil {
		return err
	}
	return sc.sendState("state", false)
}

func (sc *selectionConn) drag(msg selectionMessage) error {
	p := manual.Point{X: msg.X, Y: msg.Y}
	switch msg.Phase {
	case "start":
		return sc.session.DragStart(p, manual.Modifiers{Multi: msg.Multi})
	case "move":
		return sc.session.DragMove(p)
	case "end":
		return sc.session.DragEnd(p)
	}
	return &models.MessagePassingError{Channel: SelectionChannel, Err: fmt.Errorf("unknown drag phase %q", msg.Phase)}
}

// activate loads the document and starts a session over it
func (sc *selectionConn) activate(ctx context.Context, msg selectionMessage) error {
	if sc.session != nil && sc.session.State() == manual.StateActive {
		return manual.ErrAlreadyActive
	}
	sc.release()

	var doc *dom.Document
	switch {
	case msg.HTML != "":
		d, err := dom.LoadString(msg.HTML, msg.URL)
		if err != nil {
			return err
		}
		doc = d
	case msg.URL != "":
		if !validURL(msg.URL) {
			return fmt.Errorf("invalid URL %q", msg.URL)
		}
		loaded, err := sc.server.loader.Load(ctx, msg.URL, msg.Render)
		if err != nil {
			return err
		}
		sc.loaded = loaded
		doc = loaded.Doc
	default:
		return &models.MessagePassingError{Channel: SelectionChannel, Err: errors.New("activate needs url or html")}
	}

	minLength := msg.MinLength
	if minLength <= 0 {
		minLength = sc.server.cfg.Extraction.MinContentLength
	}
	metrics := sc.server.metrics
	var session *manual.Session
	session = manual.NewSession(sc.server.logger,
		manual.WithMinLength(minLength),
		manual.WithStateHook(func(state manual.State) {
			switch state {
			case manual.StateActive:
				metrics.ManualSessionStarted()
			case manual.StateConfirmed, manual.StateCancelled:
				metrics.ManualSessionEnded(string(state))
			}
		}),
		manual.WithCandidatesHook(func(candidates []manual.Candidate) {
			if err := sc.send(stateReply(session, "candidates", candidates)); err != nil {
				sc.logger.Debug("candidate update not delivered", zap.Error(err))
			}
		}))
	if err := session.Activate(ctx, doc); err != nil {
		sc.release()
		return err
	}

	sc.session = session
	sc.url = msg.URL
	sc.started = time.Now()
	return sc.sendState("activated", true)
}

// confirm ends the session with the selection. A rejected confirm leaves the
// session active so the host can adjust the selection.
func (sc *selectionConn) confirm(ctx context.Context) error {
	result, err := sc.session.Confirm()
	if err != nil {
		return err
	}
	elapsed := time.Since(sc.started)
	sc.server.pipeline.Analytics().Record(sc.url, result, elapsed)

	if sc.server.store != nil {
		record := models.PipelineResult{
			ExtractionResult: result,
			RequestID:        sc.session.ID(),
			Metrics: models.PipelineMetrics{
				ExtractionTime: elapsed,
				Method:         models.MethodManual,
				Attempts:       1,
			},
		}
		if err := sc.server.store.RecordExtraction(context.WithoutCancel(ctx), sc.url, record); err != nil {
			sc.logger.Warn("failed to record manual selection", zap.Error(err))
		}
	}
	return sc.send(selectionReply{Type: "result", SessionID: sc.session.ID(), Result: &result})
}

func (sc *selectionConn) cancel() error {
	if err := sc.session.Cancel(); err != nil {
		return err
	}
	return sc.send(selectionReply{Type: "cancelled", SessionID: sc.session.ID()})
}

func (sc *selectionConn) sendState(kind string, withCandidates bool) error {
	var candidates []manual.Candidate
	if withCandidates {
		candidates = sc.session.Candidates()
	}
	return sc.send(stateReply(sc.session, kind, candidates))
}

func stateReply(session *manual.Session, kind string, candidates []manual.Candidate) selectionReply {
	focused := session.Focused()
	preview := session.Preview()
	return selectionReply{
		Type:       kind,
		SessionID:  session.ID(),
		Candidates: candidates,
		Selected:   session.Selected(),
		Focused:    &focused,
		Preview:    &preview,
	}
}

// fail reports err to the host and keeps the connection open
func (sc *selectionConn) fail(err error) error {
	reply := selectionReply{Type: "error", Error: err.Error()}

	var (
		selErr *models.ManualSelectionError
		msgErr *models.MessagePassingError
	)
	switch {
	case errors.As(err, &selErr):
		reply.Reason = selErr.Reason
	case errors.As(err, &msgErr):
		reply.Reason = "message-passing"
	case errors.Is(err, manual.ErrAlreadyActive):
		reply.Reason = "already-active"
	}
	sc.logger.Debug("selection event rejected", zap.Error(err))
	return sc.send(reply)
}

func (sc *selectionConn) send(reply selectionReply) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(selectionWriteWait))
	if err := sc.conn.WriteJSON(reply); err != nil {
		sc.logger.Debug("selection write failed", zap.Error(err))
		return &models.MessagePassingError{Channel: SelectionChannel, Err: err}
	}
	return nil
}

// release ends any active session and stops a rendered document's mirror
func (sc *selectionConn) release() {
	if sc.session != nil && sc.session.State() == manual.StateActive {
		_ = sc.session.Cancel()
	}
	if sc.loaded != nil {
		sc.loaded.Close()
		sc.loaded = nil
	}
}

func (sc *selectionConn) close() {
	sc.release()
	_ = sc.conn.Close()
}
