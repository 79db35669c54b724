// README: Prometheus metrics for the matching coordinator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolEntriesSearching = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "wheels", Name: "pool_entries_searching", Help: "Entries currently in the searching pool"},
		[]string{"role"},
	)
	CandidatesRanked = promauto.NewHistogram(
		prometheus.HistogramOpts{Namespace: "wheels", Name: "candidates_ranked", Help: "Candidates returned per scoring cycle", Buckets: []float64{0, 1, 2, 5, 10, 20}},
	)
	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "offers_total", Help: "Trip requests by outcome"},
		[]string{"outcome"},
	)
	CapacityConflicts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "wheels", Name: "capacity_conflicts_total", Help: "Accepts lost to the seat-capacity race"},
	)
	TripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "trips_total", Help: "Trips by terminal status"},
		[]string{"status"},
	)
	DistanceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "distance_lookups_total", Help: "Distance provider lookups by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wheels", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wheels",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
