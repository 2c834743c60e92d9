// Package types defines the shared data model for the interrogato retrieval
// engine: the read-only knowledge-graph records produced by an upstream
// indexing pipeline (entities, relationships, communities, community
// reports, text units, covariates) and the message/response types exchanged
// with language-model providers.
package types
