package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Retrieval pipeline metrics.
var (
	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Retrieval requests by outcome",
		},
		[]string{"outcome"}, // ok, invalid_input, embedding_failed, search_failed, overloaded, internal
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"outcome"},
	)

	RetrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_matches",
			Help:      "Snippets returned per successful query",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Vector store query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"driver", "status"},
	)
)

var registerOnce sync.Once

// Register registers all service metrics with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		collectors := embeddingCollectors()
		collectors = append(collectors,
			RetrievalRequestsTotal,
			RetrievalDuration,
			RetrievalMatches,
			StoreQueryDuration,
			httpRequestDuration,
			httpRequestsTotal,
		)
		prometheus.MustRegister(collectors...)
	})
}
