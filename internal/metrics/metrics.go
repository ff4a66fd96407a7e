// Package metrics exposes Prometheus instrumentation for the
// orchestration engine, grounded on graph/metrics.go's PrometheusMetrics
// (inflight gauge, step-latency histogram, retries/skips counters),
// relabeled from node/graph terms to worker/thread terms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine-wide Prometheus instrumentation.
type Metrics struct {
	inflightWorkers prometheus.Gauge
	queueDepth      prometheus.Gauge
	stepLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	dependencySkips *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// New creates and registers engine metrics against registry. A nil
// registry uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "qa_orchestrator",
			Name:      "inflight_workers",
			Help:      "Current number of worker invocations executing concurrently",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "qa_orchestrator",
			Name:      "queue_depth",
			Help:      "Number of plan steps waiting to launch",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qa_orchestrator",
			Name:      "step_latency_ms",
			Help:      "Worker step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"worker_name", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qa_orchestrator",
			Name:      "retries_total",
			Help:      "Cumulative retry passes triggered by the evaluator",
		}, []string{"worker_name"}),
		dependencySkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qa_orchestrator",
			Name:      "dependency_skips_total",
			Help:      "Steps skipped because an ancestor step failed",
		}, []string{"worker_name"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qa_orchestrator",
			Name:      "cache_hits_total",
			Help:      "Result cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qa_orchestrator",
			Name:      "cache_misses_total",
			Help:      "Result cache misses",
		}),
	}
}

func (m *Metrics) RecordStepLatency(workerName, status string, d time.Duration) {
	m.stepLatency.WithLabelValues(workerName, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncRetry(workerName string)         { m.retries.WithLabelValues(workerName).Inc() }
func (m *Metrics) IncDependencySkip(workerName string) { m.dependencySkips.WithLabelValues(workerName).Inc() }
func (m *Metrics) SetInflightWorkers(n int)            { m.inflightWorkers.Set(float64(n)) }
func (m *Metrics) SetQueueDepth(n int)                 { m.queueDepth.Set(float64(n)) }
func (m *Metrics) IncCacheHit()                        { m.cacheHits.Inc() }
func (m *Metrics) IncCacheMiss()                       { m.cacheMisses.Inc() }
