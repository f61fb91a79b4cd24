package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// acquireWait tracks how long acquirers wait for a slot.
	acquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchd",
			Subsystem: "ratelimit",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a rate limiter slot",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"connector"},
	)

	// acquireTimeouts counts acquisitions abandoned at the wait budget.
	acquireTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "ratelimit",
			Name:      "acquire_timeouts_total",
			Help:      "Total slot acquisitions that timed out",
		},
		[]string{"connector"},
	)
)
