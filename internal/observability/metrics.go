package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ask outcomes recorded by ObserveAsk.
const (
	OutcomeAnswered        = "answered"
	OutcomePassthrough     = "passthrough"
	OutcomeQueryError      = "query_error"
	OutcomeGenerationError = "generation_error"
	OutcomeInvalid         = "invalid"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendrbot_http_requests_total",
			Help: "Total number of HTTP requests by route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendrbot_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendrbot_ask_requests_total",
			Help: "Total number of questions by outcome (answered, passthrough, query_error, generation_error, invalid).",
		},
		[]string{"outcome"},
	)
	askRoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendrbot_ask_routes_total",
			Help: "Total number of routed questions by selected data source.",
		},
		[]string{"source"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendrbot_query_duration_seconds",
			Help:    "Trends query latency by data source and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source", "status"},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trendrbot_query_truncated_total",
			Help: "Total number of query results cut to the prompt character budget.",
		},
	)
	generationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendrbot_generation_duration_seconds",
			Help:    "Generation call latency by prompt stage and status.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"stage", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		askRequestsTotal,
		askRoutesTotal,
		queryDurationSeconds,
		queryTruncatedTotal,
		generationDurationSeconds,
	)
}

func ObserveAsk(outcome string) {
	askRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRoute(source string) {
	askRoutesTotal.WithLabelValues(source).Inc()
}

func ObserveQuery(source string, err error, elapsed time.Duration, truncated bool) {
	queryDurationSeconds.WithLabelValues(source, statusLabel(err)).Observe(elapsed.Seconds())
	if truncated {
		queryTruncatedTotal.Inc()
	}
}

// ObserveGeneration records one model call. stage is "classify" or "answer".
func ObserveGeneration(stage string, err error, elapsed time.Duration) {
	generationDurationSeconds.WithLabelValues(stage, statusLabel(err)).Observe(elapsed.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
