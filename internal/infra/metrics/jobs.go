package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(batchesProcessedTotal, runsTotal, consolidationsTotal) }

var (
	batchesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_processed_total",
			Help: "Total number of batches processed, labeled by final status.",
		},
		[]string{"status"}, // 'completed', 'error'
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Job runs by outcome (finished, stopped).",
		},
		[]string{"outcome"},
	)

	consolidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_consolidations_total",
			Help: "Consolidation requests by result.",
		},
		[]string{"result"},
	)
)

func IncBatch(status string) {
	batchesProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncRun(outcome string) {
	runsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncConsolidation(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	consolidationsTotal.WithLabelValues(result).Inc()
}
