// Package ratelimit enforces per-connector request budgets.
//
// Every connector shares one third-party API quota across all organisations,
// so buckets are keyed by connector name alone. A bucket admits at most
// requestCount operations that are either in flight or were started within
// the configured interval. Acquirers are served in arrival order.
package ratelimit
