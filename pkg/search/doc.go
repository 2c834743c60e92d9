// Package search implements the four query strategies that answer questions
// against an indexed knowledge graph: local (entity-centric), global
// (community map-reduce), basic (text-unit similarity), and drift (iterative
// query decomposition). Each strategy builds a token-budgeted context from
// the knowledge tables, issues one or more model calls, and returns a
// SearchResult with an exact per-phase usage breakdown.
package search
