// Package metrics holds the prometheus collectors shared by the qlir
// components. Collectors register on the default registry; when
// QLIR_METRICS_ADDR is set, Serve exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_fetch_attempts_total",
		Help: "Slice fetch attempts issued upstream.",
	})
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qlir_fetch_failures_total",
		Help: "Slice fetch failures by reason.",
	}, []string{"reason"})
	SlicesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_slices_completed_total",
		Help: "Slices that reached a terminal COMPLETE verdict.",
	})
	DeltasApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_manifest_deltas_applied_total",
		Help: "Delta-log records folded into the in-memory manifest.",
	})
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_manifest_snapshots_written_total",
		Help: "manifest.json snapshots written.",
	})
	PartsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_agg_parts_written_total",
		Help: "Parquet parts written by the aggregator.",
	})
	RowsAggregated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qlir_agg_rows_total",
		Help: "Candle rows written into parquet parts.",
	})
)

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
