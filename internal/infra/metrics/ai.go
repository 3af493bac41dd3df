package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiTokensTotal,
		aiCallsLatencyMs,
		aiCallAttempts,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Sum of tokens recorded against the rate budget per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000, 40000, 80000},
		},
		[]string{"provider", "model", "success"},
	)

	aiCallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_call_attempts_total",
			Help: "AI call attempts by outcome (ok, retry, permanent, exhausted).",
		},
		[]string{"outcome"},
	)
)

func ObserveCall(provider, model string, tokensIn, tokensOut, tokensTotal int, latency time.Duration, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiTokensTotal.WithLabelValues(lbl...).Add(float64(tokensTotal))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latency / time.Millisecond))
}

func IncAttempt(outcome string) {
	aiCallAttempts.WithLabelValues(norm(outcome)).Inc()
}
