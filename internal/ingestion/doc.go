// Package ingestion crawls connector content into the vector index.
//
// The Orchestrator subscribes to per-connector installation topics on
// the event bus. Each event names an organisation and a link; a worker
// acquires a rate-limiter slot for the connector, fetches documents
// from the connector's Source, embeds title and content, and upserts
// the results into the organisation's partition of the vector index.
// The link's status is moved to connected or error when the crawl
// finishes.
//
// A Source is the per-connector fetch protocol. The web connector
// Source ships in this package; other connectors plug in behind the
// same interface.
package ingestion
