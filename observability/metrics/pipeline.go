package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts runs through the intent pipeline.
type PipelineMetrics struct {
	runsStarted      *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
	runsFailed       *prometheus.CounterVec
	fallbacks        prometheus.Counter
	breakerRejected  prometheus.Counter
	connectorLatency *prometheus.HistogramVec
}

var (
	pipelineOnce     sync.Once
	pipelineRegistry *PipelineMetrics
)

// Pipeline returns the process-wide pipeline metrics, registering them on
// first use.
func Pipeline() *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineRegistry = &PipelineMetrics{
			runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "intentd_runs_started_total",
				Help: "Count of pipeline runs started by source.",
			}, []string{"source"}),
			runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "intentd_runs_completed_total",
				Help: "Count of pipeline runs completed by action and mode.",
			}, []string{"action", "mode"}),
			runsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "intentd_runs_failed_total",
				Help: "Count of pipeline runs failed by error code.",
			}, []string{"code"}),
			fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "intentd_jupiter_fallback_total",
				Help: "Count of swaps rerouted from Jupiter to Raydium.",
			}),
			breakerRejected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "intentd_circuit_breaker_rejections_total",
				Help: "Count of live runs rejected while the circuit was open.",
			}),
			connectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "intentd_connector_latency_seconds",
				Help:    "Connector dispatch latency by connector name.",
				Buckets: prometheus.DefBuckets,
			}, []string{"connector"}),
		}
		prometheus.MustRegister(
			pipelineRegistry.runsStarted,
			pipelineRegistry.runsCompleted,
			pipelineRegistry.runsFailed,
			pipelineRegistry.fallbacks,
			pipelineRegistry.breakerRejected,
			pipelineRegistry.connectorLatency,
		)
	})
	return pipelineRegistry
}

func (m *PipelineMetrics) RunStarted(source string) {
	m.runsStarted.WithLabelValues(source).Inc()
}

func (m *PipelineMetrics) RunCompleted(action, mode string) {
	m.runsCompleted.WithLabelValues(action, mode).Inc()
}

func (m *PipelineMetrics) RunFailed(code string) {
	m.runsFailed.WithLabelValues(code).Inc()
}

func (m *PipelineMetrics) FallbackTaken() { m.fallbacks.Inc() }

func (m *PipelineMetrics) BreakerRejected() { m.breakerRejected.Inc() }

func (m *PipelineMetrics) ObserveConnector(connector string, elapsed time.Duration) {
	m.connectorLatency.WithLabelValues(connector).Observe(elapsed.Seconds())
}
