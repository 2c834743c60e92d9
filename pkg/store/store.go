// Package store provides read-only access to the knowledge-graph tables
// produced by the upstream indexing pipeline. Backends load or query the
// tables; the search strategies never mutate them.
package store

import (
	"context"
	"errors"

	"github.com/soundprediction/interrogato/pkg/types"
)

// ErrTableUnavailable indicates a required table could not be read. This is
// fatal for the search call that needed it.
var ErrTableUnavailable = errors.New("knowledge table unavailable")

// ScoredEntity pairs an entity with its similarity score for the query.
type ScoredEntity struct {
	Entity *types.Entity
	Score  float64
}

// ScoredTextUnit pairs a text unit with its similarity score for the query.
type ScoredTextUnit struct {
	TextUnit *types.TextUnit
	Score    float64
}

// KnowledgeStore is the read-only view of the knowledge graph the search
// strategies consume. Implementations must be safe for concurrent readers.
type KnowledgeStore interface {
	// Entity returns the entity with the given id, or nil when absent.
	Entity(ctx context.Context, id string) (*types.Entity, error)

	// EntityByTitle returns the entity with an exactly matching title, or
	// nil when absent.
	EntityByTitle(ctx context.Context, title string) (*types.Entity, error)

	// SimilarEntities returns up to k entities ranked by cosine similarity
	// of their description embeddings to the query vector. Entities without
	// embeddings are skipped.
	SimilarEntities(ctx context.Context, vector []float32, k int) ([]ScoredEntity, error)

	// RelationshipsFor returns all relationships with at least one endpoint
	// in ids.
	RelationshipsFor(ctx context.Context, ids []string) ([]*types.Relationship, error)

	// TextUnits returns the text units with the given ids; missing ids are
	// omitted.
	TextUnits(ctx context.Context, ids []string) ([]*types.TextUnit, error)

	// SimilarTextUnits returns up to k text units ranked by cosine
	// similarity of their embeddings to the query vector.
	SimilarTextUnits(ctx context.Context, vector []float32, k int) ([]ScoredTextUnit, error)

	// CovariatesFor returns the covariates whose subject is in ids.
	CovariatesFor(ctx context.Context, ids []string) ([]*types.Covariate, error)

	// Communities returns the communities at the given hierarchy level.
	Communities(ctx context.Context, level int) ([]*types.Community, error)

	// CommunityReports returns the reports for communities at the given
	// hierarchy level. A negative level returns reports for every level.
	CommunityReports(ctx context.Context, level int) ([]*types.CommunityReport, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
