package spa

import (
	"context"
	"time"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/stability"

	"go.uber.org/zap"
)

// MinSPAContent is the body text length at which a client-rendered page counts as populated
const MinSPAContent = 100

// WaitResult reports how a content wait ended
type WaitResult struct {
	Stable        bool
	Framework     string
	Waited        time.Duration
	ContentLength int
}

// WaitForContent waits for a client-rendered page to populate. After the
// framework's initial delay it alternates stability waits with content checks
// until the body carries at least MinSPAContent characters (stable) or the
// budget runs out (not stable). A positive budget overrides the recommended
// timeout. An error is returned only when ctx ends or the monitor fails.
func (d *Detector) WaitForContent(ctx context.Context, doc *dom.Document, monitor *stability.Monitor, det Detection, budget time.Duration, ignored []string) (WaitResult, error) {
	strategy := d.GetOptimizedWaitStrategy(det.Framework)
	if budget <= 0 {
		budget = d.GetRecommendedTimeout(det.Framework, doc.NodeCount())
	}

	start := time.Now()
	deadline := start.Add(budget)
	result := WaitResult{Framework: det.Framework}
	finish := func(stable bool) (WaitResult, error) {
		result.Stable = stable
		result.Waited = time.Since(start)
		result.ContentLength = doc.BodyTextLength()
		d.logger.Debug("spa content wait finished",
			zap.String("framework", det.Framework),
			zap.Bool("stable", stable),
			zap.Duration("waited", result.Waited),
			zap.Int("content_length", result.ContentLength))
		return result, nil
	}

	if err := sleep(ctx, minDuration(strategy.InitialWait, budget)); err != nil {
		return result, err
	}

	for {
		if doc.Detached() {
			return finish(false)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return finish(doc.BodyTextLength() >= MinSPAContent)
		}

		stable, err := monitor.WaitForStability(ctx, stability.Options{
			StableTime:       strategy.StableTime,
			MaxWait:          remaining,
			CheckInterval:    strategy.CheckInterval,
			RequiredWindows:  2,
			IgnoredSelectors: ignored,
		})
		if err != nil {
			return result, err
		}
		if !stable {
			return finish(false)
		}
		if doc.BodyTextLength() >= MinSPAContent {
			return finish(true)
		}
		if err := sleep(ctx, minDuration(strategy.CheckInterval, time.Until(deadline))); err != nil {
			return result, err
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
