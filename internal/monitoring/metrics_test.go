package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"extract-main-content/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestObserveExtraction(t *testing.T) {
	m := NewMetrics()
	m.ObserveExtraction(models.MethodReadability, true, 120*time.Millisecond)
	m.ObserveExtraction(models.MethodReadability, true, 80*time.Millisecond)
	m.ObserveExtraction("", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Extractions.WithLabelValues("readability", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues("none", "failure")))
}

func TestManualSessionGauge(t *testing.T) {
	m := NewMetrics()
	m.ManualSessionStarted()
	m.ManualSessionStarted()
	m.ManualSessionEnded("confirmed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManualSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManualOutcomes.WithLabelValues("confirmed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveSPA("react")
	m.ObserveStage("readability", 10*time.Millisecond)
	m.RecordRequest("POST", "/v1/extract", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `extract_spa_detections_total{framework="react"} 1`)
	assert.Contains(t, string(body), `extract_stage_duration_seconds_count{stage="readability"} 1`)
	assert.Contains(t, string(body), `extract_http_requests_total{method="POST",path="/v1/extract",status="200"} 1`)
}
