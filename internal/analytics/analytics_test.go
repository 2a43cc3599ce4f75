package analytics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"extract-main-content/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func success(m models.Method) models.ExtractionResult {
	return models.ExtractionResult{Success: true, Method: m, Content: &models.Content{Text: "ok"}}
}

func TestEmptySnapshot(t *testing.T) {
	snap := New().Snapshot()
	assert.Equal(t, 0, snap.TotalAttempts)
	assert.Zero(t, snap.SuccessRate)
	assert.Empty(t, snap.FailurePatterns)
	assert.Zero(t, snap.P95ExtractionTime)
}

func TestRecordAggregates(t *testing.T) {
	a := New()
	a.Record("https://a.example", success(models.MethodReadability), 100*time.Millisecond)
	a.Record("https://b.example", success(models.MethodReadability), 300*time.Millisecond)
	a.Record("https://c.example", success(models.MethodSiteSpecific), 200*time.Millisecond)
	a.Record("https://d.example", models.Failure(models.MethodHeuristic, &models.MinimumContentError{Actual: 90, Required: 800}), 400*time.Millisecond)

	snap := a.Snapshot()
	assert.Equal(t, 4, snap.TotalAttempts)
	assert.Equal(t, 3, snap.SuccessCount)
	assert.InDelta(t, 0.75, snap.SuccessRate, 1e-9)
	assert.Equal(t, 2, snap.MethodBreakdown[models.MethodReadability])
	assert.Equal(t, 1, snap.MethodBreakdown[models.MethodSiteSpecific])
	assert.Equal(t, 250*time.Millisecond, snap.AverageExtractionTime)
	assert.Equal(t, 400*time.Millisecond, snap.P95ExtractionTime)

	require.Len(t, snap.FailurePatterns, 1)
	assert.Equal(t, PatternTooShort, snap.FailurePatterns[0].Pattern)
	assert.Equal(t, []string{"https://d.example"}, snap.FailurePatterns[0].URLs)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"minimum", &models.MinimumContentError{Actual: 1, Required: 800}, PatternTooShort},
		{"timeout", &models.TimeoutError{Operation: models.OperationExtraction, Timeout: "1s"}, PatternTimeout},
		{"spa", &models.TimeoutError{Operation: models.OperationSPAContent, Timeout: "8s"}, PatternSPA},
		{"mutation", &models.DocumentMutationError{Op: "readability", Err: errors.New("changed")}, PatternMutation},
		{"readability", &models.ReadabilityError{Reason: models.ReasonNotReadable}, PatternNotReadable},
		{"wrapped", fmt.Errorf("stage: %w", errors.Join(models.ErrManualSelectionRequired, &models.MinimumContentError{Actual: 1, Required: 800})), PatternTooShort},
		{"other", errors.New("boom"), PatternOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(models.Failure(models.MethodHeuristic, tt.err)))
		})
	}

	// without a typed cause the message decides
	assert.Equal(t, PatternTimeout, Classify(models.ExtractionResult{Error: "timeout during extraction after 1s"}))
	assert.Equal(t, PatternSPA, Classify(models.ExtractionResult{Error: "SPA content timeout"}))
}

func TestPatternURLsAreCapped(t *testing.T) {
	a := New()
	fail := models.Failure(models.MethodHeuristic, errors.New("boom"))
	for i := 0; i < MaxPatternURLs+5; i++ {
		a.Record(fmt.Sprintf("https://example.com/%d", i), fail, time.Millisecond)
	}
	fp := a.Snapshot().FailurePatterns[0]
	assert.Equal(t, MaxPatternURLs+5, fp.Count)
	require.Len(t, fp.URLs, MaxPatternURLs)
	assert.Equal(t, "https://example.com/5", fp.URLs[0])
	assert.Equal(t, fmt.Sprintf("https://example.com/%d", MaxPatternURLs+4), fp.URLs[MaxPatternURLs-1])
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New()
	a.Record("https://x.example", models.Failure(models.MethodHeuristic, errors.New("boom")), time.Millisecond)
	snap := a.Snapshot()
	snap.FailurePatterns[0].URLs[0] = "changed"
	snap.MethodBreakdown[models.MethodManual] = 9

	again := a.Snapshot()
	assert.Equal(t, "https://x.example", again.FailurePatterns[0].URLs[0])
	assert.Zero(t, again.MethodBreakdown[models.MethodManual])
}

func TestReset(t *testing.T) {
	a := New()
	a.Record("https://x.example", success(models.MethodHeuristic), time.Second)
	a.Reset()
	snap := a.Snapshot()
	assert.Zero(t, snap.TotalAttempts)
	assert.Zero(t, snap.AverageExtractionTime)
	assert.Empty(t, snap.MethodBreakdown)
}

func TestConcurrentRecord(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				a.Record("https://ok.example", success(models.MethodReadability), time.Millisecond)
				return
			}
			a.Record("https://bad.example", models.Failure(models.MethodHeuristic, errors.New("boom")), time.Millisecond)
		}(i)
	}
	wg.Wait()
	snap := a.Snapshot()
	assert.Equal(t, 50, snap.TotalAttempts)
	assert.Equal(t, 25, snap.SuccessCount)
	assert.Equal(t, 25, snap.FailurePatterns[0].Count)
}
