// Package metrics exposes Prometheus instrumentation and the health endpoint.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChooseTotal counts action choices by policy branch.
	ChooseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qtable",
			Name:      "choose_total",
			Help:      "Actions chosen, by ε-greedy branch",
		},
		[]string{"policy"},
	)

	// UpdatesTotal counts applied temporal-difference updates.
	UpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qtable",
			Name:      "updates_total",
			Help:      "Temporal-difference updates applied",
		},
	)

	// SaveErrorsTotal counts snapshot writes that failed.
	SaveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qtable",
			Name:      "save_errors_total",
			Help:      "Snapshot writes that failed",
		},
	)

	// ResetsTotal counts table resets.
	ResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qtable",
			Name:      "resets_total",
			Help:      "Tables reset to empty",
		},
	)

	// UpdateSeconds observes update latency including the synchronous save.
	UpdateSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "qtable",
			Name:      "update_seconds",
			Help:      "Update latency including snapshot persistence",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	// TablesLoaded tracks the number of tables held in memory.
	TablesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qtable",
			Name:      "tables_loaded",
			Help:      "Per-identity tables held in memory",
		},
	)
)

// Handler serves /healthz and /metrics. healthy reports readiness of the
// storage backend.
func Handler(healthy func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ok := healthy == nil || healthy()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": ok})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
