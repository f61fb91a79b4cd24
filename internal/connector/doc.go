// Package connector defines the closed set of supported data connectors
// and their bootstrap loading.
//
// A connector is an external data source integration (document store,
// office suite, project tracker) that an organisation can install. The
// catalog here is the source of truth for which connector names exist;
// installation state lives with the organisation aggregate.
package connector
