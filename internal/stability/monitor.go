// Package stability detects when a live document has stopped mutating.
//
// The monitor counts quiet windows: every qualifying mutation resets the
// counter, every poll tick after StableTime of silence advances it, and the
// wait resolves once RequiredWindows consecutive quiet ticks have been seen.
// MaxWait bounds every wait, so a page that never settles still resolves.
package stability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options tunes a single wait.
type Options struct {
	StableTime      time.Duration
	MaxWait         time.Duration
	CheckInterval   time.Duration
	RequiredWindows int
	// IgnoredSelectors drops mutations inside matching elements (tickers, ads, live regions)
	IgnoredSelectors []string
	// Root restricts observation to a subtree; empty observes the whole document
	Root string
	// GraceDelay is how long an already loaded page must stay quiet to resolve early
	GraceDelay time.Duration
}

// DefaultOptions returns the settings used when a caller has no framework hint
func DefaultOptions() Options {
	return Options{
		StableTime:       500 * time.Millisecond,
		MaxWait:          10 * time.Second,
		CheckInterval:    100 * time.Millisecond,
		RequiredWindows:  2,
		IgnoredSelectors: []string{"[aria-live]", ".advertisement", "[data-ad-slot]"},
		GraceDelay:       100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.StableTime <= 0 {
		o.StableTime = def.StableTime
	}
	if o.MaxWait <= 0 {
		o.MaxWait = def.MaxWait
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = def.CheckInterval
	}
	if o.RequiredWindows <= 0 {
		o.RequiredWindows = 1
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = def.GraceDelay
	}
	return o
}

// Monitor watches one document. Concurrent waits share a single observation,
// which stops once every waiter has left.
type Monitor struct {
	doc    *dom.Document
	logger *zap.Logger
	group  singleflight.Group

	mu         sync.Mutex
	waiters    int
	generation int
	shared     context.Context
	cancel     context.CancelFunc
}

// NewMonitor creates a monitor for doc
func NewMonitor(doc *dom.Document, logger *zap.Logger) *Monitor {
	return &Monitor{
		doc:    doc,
		logger: logging.OrNop(logger).Named("stability"),
	}
}

// WaitForStability blocks until the document is stable (true), MaxWait elapses
// or the document unloads (false). A call made while another is in flight
// joins it and receives the same answer; its own options are not applied.
// Cancelling ctx abandons this caller's wait only, unless it was the last one.
func (m *Monitor) WaitForStability(ctx context.Context, opts Options) (bool, error) {
	opts = opts.withDefaults()

	shared, key := m.join(ctx)
	defer m.leave()

	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.observe(shared, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// join registers a waiter and returns the context and key of the observation
// it shares. The first waiter after an idle period starts a new generation.
func (m *Monitor) join(ctx context.Context) (context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiters == 0 {
		m.generation++
		m.shared, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.waiters++
	return m.shared, "stability-" + strconv.Itoa(m.generation)
}

func (m *Monitor) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters--
	if m.waiters == 0 {
		m.cancel()
		m.shared, m.cancel = nil, nil
	}
}

func (m *Monitor) observe(ctx context.Context, opts Options) (bool, error) {
	start := time.Now()
	mutated := make(chan struct{}, 1)
	var mutationCount int
	var countMu sync.Mutex

	stopObserving, err := m.doc.Observe(dom.ObserveOptions{
		Root:             opts.Root,
		IgnoredSelectors: opts.IgnoredSelectors,
	}, func(records []dom.Mutation) {
		countMu.Lock()
		mutationCount += len(records)
		countMu.Unlock()
		select {
		case mutated <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return false, err
	}
	defer stopObserving()

	unloaded := make(chan struct{})
	var unloadOnce sync.Once
	stopUnload := m.doc.OnUnload(func() { unloadOnce.Do(func() { close(unloaded) }) })
	defer stopUnload()

	stable := false
	defer func() {
		countMu.Lock()
		defer countMu.Unlock()
		m.logger.Debug("stability wait finished",
			zap.Bool("stable", stable),
			zap.Int("mutations", mutationCount),
			zap.Duration("elapsed", time.Since(start)))
	}()

	if m.doc.Detached() {
		return false, nil
	}

	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()

	// A page that is already loaded and has content resolves after a short
	// quiet grace period instead of a full set of windows.
	if m.doc.ReadyState() == dom.StateComplete && m.doc.BodyTextLength() > 0 {
		grace := time.NewTimer(opts.GraceDelay)
		select {
		case <-grace.C:
			stable = true
			return true, nil
		case <-mutated:
			grace.Stop()
		case <-unloaded:
			grace.Stop()
			return false, nil
		case <-deadline.C:
			grace.Stop()
			return false, nil
		case <-ctx.Done():
			grace.Stop()
			return false, ctx.Err()
		}
	}

	ticker := time.NewTicker(opts.CheckInterval)
	defer ticker.Stop()

	lastMutation := time.Now()
	windows := 0
	for {
		select {
		case <-mutated:
			lastMutation = time.Now()
			windows = 0
		case now := <-ticker.C:
			if now.Sub(lastMutation) < opts.StableTime {
				continue
			}
			windows++
			if windows >= opts.RequiredWindows {
				stable = true
				return true, nil
			}
		case <-deadline.C:
			return false, nil
		case <-unloaded:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
