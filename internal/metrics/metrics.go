// Package metrics exposes import and renesting counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the geography collectors.
	Registry = prometheus.NewRegistry()

	ingestFeatures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geography",
			Subsystem: "ingest",
			Name:      "features_total",
			Help:      "Shapefile features processed, by geolevel and outcome.",
		},
		[]string{"geolevel", "outcome"},
	)

	characteristics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geography",
			Subsystem: "ingest",
			Name:      "characteristics_total",
			Help:      "Characteristic assignments, by outcome.",
		},
		[]string{"outcome"},
	)

	renestUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geography",
			Subsystem: "renest",
			Name:      "units_total",
			Help:      "Geounits changed by renesting, by geolevel and change.",
		},
		[]string{"geolevel", "change"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geography",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of import and renest runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
		[]string{"kind", "status"},
	)
)

func init() {
	Registry.MustRegister(ingestFeatures, characteristics, renestUnits, jobDuration)
}

// IngestFeature counts one feature with outcome created, reused, skipped or failed.
func IngestFeature(geolevel, outcome string) {
	ingestFeatures.WithLabelValues(geolevel, outcome).Inc()
}

// Characteristic counts one assignment with outcome assigned, parse_error or store_error.
func Characteristic(outcome string) {
	characteristics.WithLabelValues(outcome).Inc()
}

// RenestUnits adds n units with the given change (geometry, data, failed).
func RenestUnits(geolevel, change string, n int) {
	if n > 0 {
		renestUnits.WithLabelValues(geolevel, change).Add(float64(n))
	}
}

// ObserveJob records how long a run took.
func ObserveJob(kind, status string, d time.Duration) {
	jobDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
