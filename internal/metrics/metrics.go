// Package metrics exposes Prometheus instrumentation for converge and
// rollout runs on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	// Converge metrics
	convergeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "converge",
			Name:      "runs_total",
			Help:      "Total number of converge runs by result",
		},
		[]string{"result"},
	)

	convergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiln",
			Subsystem: "converge",
			Name:      "duration_seconds",
			Help:      "Duration of converge runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"result"},
	)

	resourceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "converge",
			Name:      "resource_events_total",
			Help:      "Total number of per-resource lifecycle events by type",
		},
		[]string{"type"},
	)

	resourcesDesired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "converge",
			Name:      "resources_desired",
			Help:      "Number of resources in the current desired set",
		},
	)

	resourcesApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "converge",
			Name:      "resources_applied",
			Help:      "Number of resources the current run has finished walking",
		},
	)

	// Rollout metrics
	rolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "rollout",
			Name:      "deploys_total",
			Help:      "Total number of deploys by outcome",
		},
		[]string{"outcome"},
	)

	rolloutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiln",
			Subsystem: "rollout",
			Name:      "deploy_duration_seconds",
			Help:      "Duration of deploys in seconds",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~42min
		},
		[]string{"outcome"},
	)

	liveRevision = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "rollout",
			Name:      "live_revision",
			Help:      "Number of the currently live revision, 0 when none is live",
		},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		convergeTotal,
		convergeDuration,
		resourceEventsTotal,
		resourcesDesired,
		resourcesApplied,
		rolloutsTotal,
		rolloutDuration,
		liveRevision,
	)
}

// Registry returns the registry all kiln metrics are registered on.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordConverge records a finished converge run.
// result: "success", "partial-failure" or "error".
func RecordConverge(result string, durationSeconds float64) {
	convergeTotal.WithLabelValues(result).Inc()
	convergeDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordDeploy records a finished deploy.
// outcome: "live", "rolled-back" or "failed".
func RecordDeploy(outcome string, durationSeconds float64) {
	rolloutsTotal.WithLabelValues(outcome).Inc()
	rolloutDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// SetLiveRevision publishes the revision number currently serving traffic.
func SetLiveRevision(number int) {
	liveRevision.Set(float64(number))
}
