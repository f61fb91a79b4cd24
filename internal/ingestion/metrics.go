package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CrawlsTotal counts crawl outcomes.
	// Labels: connector, result (success, partial, error)
	CrawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "ingestion",
			Name:      "crawls_total",
			Help:      "Total number of crawls by outcome",
		},
		[]string{"connector", "result"},
	)

	// DocumentsIngestedTotal counts documents written to the index.
	DocumentsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "ingestion",
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested into the vector index",
		},
		[]string{"connector"},
	)

	// CrawlDuration tracks end-to-end crawl latency.
	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Subsystem: "ingestion",
			Name:      "crawl_duration_seconds",
			Help:      "Duration of fetch-embed-index cycles in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"connector"},
	)
)
