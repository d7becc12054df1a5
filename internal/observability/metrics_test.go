// internal/observability/metrics_test.go
package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.CountAction("click", "ok")
	m.CountAction("click", "ok")
	m.CountAction("click", "not_found")
	m.CountScreenshot()
	m.CountScoredRow()
	m.SetPromptTokens(1234)
	m.ObserveModelCall("openai", 2*time.Second, nil)
	m.ObserveModelCall("openai", time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("click", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("click", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.screenshots))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scoredRows))
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.promptTokens))
	assert.Equal(t, 2, testutil.CollectAndCount(m.modelLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CountAction("url", "ok")
		m.CountScreenshot()
		m.CountScoredRow()
		m.SetPromptTokens(1)
		m.ObserveModelCall("gemini", time.Second, nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.CountAction("score_ready", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shopscope_actions_total{kind="score_ready",outcome="ok"} 1`)
}
