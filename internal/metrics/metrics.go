// Package metrics exposes Prometheus collectors for company loads, questions
// and verification verdicts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finrag"

var (
	// loads counts company loads. Labels: market, status (loaded, cached, error).
	loads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "loads_total",
		Help:      "Company loads by outcome",
	}, []string{"market", "status"})

	// queries counts answered questions. Labels: status (ok, error), degraded.
	queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "queries_total",
		Help:      "Questions answered by outcome",
	}, []string{"status", "degraded"})

	confidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "confidence",
		Help:      "Distribution of final answer confidence",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	})

	// verdicts counts verification agent outcomes. Labels: agent (E, V, L), status (PASS, FAIL).
	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "verify",
		Name:      "verdicts_total",
		Help:      "Verification agent verdicts",
	}, []string{"agent", "status"})

	// stageLatency measures pipeline stages. Labels: stage (load, retrieval, generation).
	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "stage_duration_seconds",
		Help:      "Latency of pipeline stages in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})
)

// Stage names for ObserveStage.
const (
	StageLoad       = "load"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
)

// RecordLoad counts a company load outcome.
func RecordLoad(market, status string) {
	loads.WithLabelValues(market, status).Inc()
}

// RecordQuery counts an answered question and observes its confidence.
// Failed questions are counted but not observed.
func RecordQuery(ok, degraded bool, conf float64) {
	status := "ok"
	if !ok {
		status = "error"
	}
	deg := "false"
	if degraded {
		deg = "true"
	}
	queries.WithLabelValues(status, deg).Inc()
	if ok {
		confidence.Observe(conf)
	}
}

// RecordVerdict counts one verification agent result.
func RecordVerdict(agent, status string) {
	verdicts.WithLabelValues(agent, status).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
