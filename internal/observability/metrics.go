// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics records per-turn statistics of an evaluation session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	modelLatency *prometheus.HistogramVec
	actions      *prometheus.CounterVec
	promptTokens prometheus.Gauge
	screenshots  prometheus.Counter
	scoredRows   prometheus.Counter
}

// NewMetrics registers the session collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopscope_model_request_duration_seconds",
				Help:    "Latency of model completions, including retries.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"provider", "outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscope_actions_total",
				Help: "Structured actions dispatched, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		promptTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopscope_conversation_text_tokens",
			Help: "Estimated text tokens in the conversation sent on the latest model call.",
		}),
		screenshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopscope_screenshots_total",
			Help: "Screenshots captured from the browser.",
		}),
		scoredRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopscope_scored_rows_total",
			Help: "Score writes accepted into the framework table.",
		}),
	}
	m.registry.MustRegister(m.modelLatency, m.actions, m.promptTokens, m.screenshots, m.scoredRows)
	return m
}

// ObserveModelCall records the duration of one completion.
func (m *Metrics) ObserveModelCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelLatency.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

// CountAction records the outcome of one dispatched action.
func (m *Metrics) CountAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, outcome).Inc()
}

// SetPromptTokens records the token estimate of the latest request.
func (m *Metrics) SetPromptTokens(n int) {
	if m == nil {
		return
	}
	m.promptTokens.Set(float64(n))
}

// CountScreenshot records a captured screenshot.
func (m *Metrics) CountScreenshot() {
	if m == nil {
		return
	}
	m.screenshots.Inc()
}

// CountScoredRow records an accepted score write.
func (m *Metrics) CountScoredRow() {
	if m == nil {
		return
	}
	m.scoredRows.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics.", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
