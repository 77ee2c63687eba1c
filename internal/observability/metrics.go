package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "match_queries_total", Help: "Matching engine queries by direction"},
		[]string{"direction"},
	)
	MatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_hail", Name: "match_candidates", Help: "Candidates returned per matching query",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
	})
	AcceptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "accepts_total", Help: "Ride acceptance attempts by outcome"},
		[]string{"outcome"},
	)
	SweepRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "sweep_records_total", Help: "Records handled per lifecycle sweep job"},
		[]string{"job"},
	)
	SweepErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "sweep_errors_total", Help: "Per-record failures during sweeps"},
		[]string{"job"},
	)
	NotifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_hail", Name: "notify_failures_total", Help: "Notification deliveries that failed and were dropped",
	})
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
