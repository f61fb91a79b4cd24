// Package services assembles the searchd service graph from
// configuration: event bus, vector index, embeddings, rate limiters,
// organisation registry and the ingestion orchestrator.
package services
