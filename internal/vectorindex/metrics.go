package vectorindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsAddedTotal counts documents committed to the index.
	// Labels: backend (memory, chromem, qdrant)
	DocumentsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "vectorindex",
			Name:      "documents_added_total",
			Help:      "Total number of documents committed to the vector index",
		},
		[]string{"backend"},
	)

	// SearchesTotal counts search operations.
	// Labels: backend, mode (title, content)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "vectorindex",
			Name:      "searches_total",
			Help:      "Total number of vector searches",
		},
		[]string{"backend", "mode"},
	)

	// SearchResults tracks result counts per search.
	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Subsystem: "vectorindex",
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"backend", "mode"},
	)
)

func observeDocumentsAdded(backend string, count int) {
	if count > 0 {
		DocumentsAddedTotal.WithLabelValues(backend).Add(float64(count))
	}
}

func observeSearch(backend, mode string, results int) {
	SearchesTotal.WithLabelValues(backend, mode).Inc()
	SearchResults.WithLabelValues(backend, mode).Observe(float64(results))
}
