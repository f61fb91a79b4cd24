// Package vectorindex stores and searches pre-embedded documents,
// partitioned by organisation.
//
// Every document carries two vectors (title and content) that are
// committed together or not at all. Search is k-nearest by cosine
// similarity over one of the two vectors and is hard-scoped to a single
// organisation: an organisation id is required on every operation and
// results never cross the partition boundary.
//
// Three backends implement the Index interface: an in-memory index for
// tests and single-node development, an embedded chromem-go store with
// optional persistence, and a Qdrant store over gRPC for production.
// NewIndex selects between them from config.
package vectorindex
