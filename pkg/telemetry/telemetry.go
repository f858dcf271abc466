// Package telemetry exports the flywheel's own Prometheus metrics. Purely
// ambient: nothing in the orchestrator's control flow reads these back, but
// a long-running process benefits from exposing crank counts and SHS
// movement the same way every instrumented service in the corpus does.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the exported gauges/counters for one flywheel process.
type Metrics struct {
	registry        *prometheus.Registry
	crankTotal      *prometheus.CounterVec
	skillHealth     prometheus.Gauge
	shsDelta        prometheus.Gauge
	runnerDuration  prometheus.Histogram
}

// NewMetrics registers the flywheel's metric set against a dedicated
// registry (not the global default) so multiple Metrics instances can coexist in
// tests without collector-already-registered panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		crankTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flywheel_crank_total",
			Help: "Total cranks completed, labeled by gate outcome.",
		}, []string{"gate"}),
		skillHealth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flywheel_skill_health_score",
			Help: "Most recently computed Skill Health Score.",
		}),
		shsDelta: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flywheel_shs_delta",
			Help: "SHS delta from the prior accepted baseline.",
		}),
		runnerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flywheel_runner_duration_seconds",
			Help:    "Wall-clock duration of individual runner subprocess executions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordCrank increments the crank counter for the given gate outcome
// ("passed", "failed", "measure-only") and sets the SHS/delta gauges.
func (m *Metrics) RecordCrank(gateOutcome string, shs, delta float64) {
	m.crankTotal.WithLabelValues(gateOutcome).Inc()
	m.skillHealth.Set(shs)
	m.shsDelta.Set(delta)
}

// ObserveRunnerDuration records one runner subprocess's wall-clock duration.
func (m *Metrics) ObserveRunnerDuration(d time.Duration) {
	m.runnerDuration.Observe(d.Seconds())
}

// Server serves m's registry over /metrics, started only when
// config.TelemetryConfig.Enabled is set.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) an HTTP server exposing m at listen.
func NewServer(listen string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: listen, Handler: mux}}
}

// Start runs the server until ctx is cancelled, then shuts down gracefully,
// allowing in-flight requests up to 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
