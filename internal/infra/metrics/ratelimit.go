package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(governorDenials, governorWaitSeconds) }

var (
	governorDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_governor_denials_total",
			Help: "Capacity checks denied, labeled by model and violated ceiling.",
		},
		[]string{"model", "ceiling"},
	)

	governorWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_governor_wait_seconds",
			Help:    "Time spent blocked waiting for rate capacity.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"model"},
	)
)

func GovernorDenied(model, ceiling string) {
	governorDenials.WithLabelValues(norm(model), norm(ceiling)).Inc()
}

func ObserveGovernorWait(model string, d time.Duration) {
	governorWaitSeconds.WithLabelValues(norm(model)).Observe(d.Seconds())
}
