package store

import (
	"context"
	"sort"
	"strings"

	"github.com/soundprediction/interrogato/pkg/types"
	"github.com/soundprediction/interrogato/pkg/utils"
)

// MemoryStore holds the knowledge-graph tables in memory. It is populated
// once (directly or via the parquet loader) and read concurrently by any
// number of search calls; all accessors treat the tables as immutable.
type MemoryStore struct {
	entities      map[string]*types.Entity
	entityOrder   []string
	byTitle       map[string]*types.Entity
	relationships []*types.Relationship
	textUnits     map[string]*types.TextUnit
	textUnitOrder []string
	covariates    []*types.Covariate
	communities   []*types.Community
	reports       []*types.CommunityReport
}

// NewMemoryStore builds a memory store from the given tables. The slices
// are retained, not copied; callers must not mutate them afterwards.
func NewMemoryStore(
	entities []*types.Entity,
	relationships []*types.Relationship,
	textUnits []*types.TextUnit,
	covariates []*types.Covariate,
	communities []*types.Community,
	reports []*types.CommunityReport,
) *MemoryStore {
	s := &MemoryStore{
		entities:      make(map[string]*types.Entity, len(entities)),
		byTitle:       make(map[string]*types.Entity, len(entities)),
		relationships: relationships,
		textUnits:     make(map[string]*types.TextUnit, len(textUnits)),
		covariates:    covariates,
		communities:   communities,
		reports:       reports,
	}
	for _, e := range entities {
		s.entities[e.ID] = e
		s.entityOrder = append(s.entityOrder, e.ID)
		s.byTitle[strings.ToLower(e.Title)] = e
	}
	for _, u := range textUnits {
		s.textUnits[u.ID] = u
		s.textUnitOrder = append(s.textUnitOrder, u.ID)
	}
	return s
}

// Entity implements KnowledgeStore.
func (s *MemoryStore) Entity(ctx context.Context, id string) (*types.Entity, error) {
	return s.entities[id], nil
}

// EntityByTitle implements KnowledgeStore.
func (s *MemoryStore) EntityByTitle(ctx context.Context, title string) (*types.Entity, error) {
	return s.byTitle[strings.ToLower(title)], nil
}

// SimilarEntities implements KnowledgeStore.
func (s *MemoryStore) SimilarEntities(ctx context.Context, vector []float32, k int) ([]ScoredEntity, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	scored := make([]ScoredEntity, 0, len(s.entityOrder))
	for _, id := range s.entityOrder {
		e := s.entities[id]
		if len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredEntity{Entity: e, Score: utils.CosineSimilarity(vector, e.Embedding)})
	}

	// Stable keeps table order on ties so results stay deterministic.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// RelationshipsFor implements KnowledgeStore.
func (s *MemoryStore) RelationshipsFor(ctx context.Context, ids []string) ([]*types.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var matched []*types.Relationship
	for _, r := range s.relationships {
		if _, ok := wanted[r.SourceID]; ok {
			matched = append(matched, r)
			continue
		}
		if _, ok := wanted[r.TargetID]; ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// TextUnits implements KnowledgeStore.
func (s *MemoryStore) TextUnits(ctx context.Context, ids []string) ([]*types.TextUnit, error) {
	var units []*types.TextUnit
	for _, id := range ids {
		if u, ok := s.textUnits[id]; ok {
			units = append(units, u)
		}
	}
	return units, nil
}

// SimilarTextUnits implements KnowledgeStore.
func (s *MemoryStore) SimilarTextUnits(ctx context.Context, vector []float32, k int) ([]ScoredTextUnit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	scored := make([]ScoredTextUnit, 0, len(s.textUnitOrder))
	for _, id := range s.textUnitOrder {
		u := s.textUnits[id]
		if len(u.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredTextUnit{TextUnit: u, Score: utils.CosineSimilarity(vector, u.Embedding)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// CovariatesFor implements KnowledgeStore.
func (s *MemoryStore) CovariatesFor(ctx context.Context, ids []string) ([]*types.Covariate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var matched []*types.Covariate
	for _, c := range s.covariates {
		if _, ok := wanted[c.SubjectID]; ok {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// Communities implements KnowledgeStore.
func (s *MemoryStore) Communities(ctx context.Context, level int) ([]*types.Community, error) {
	var matched []*types.Community
	for _, c := range s.communities {
		if level < 0 || c.Level == level {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// CommunityReports implements KnowledgeStore.
func (s *MemoryStore) CommunityReports(ctx context.Context, level int) ([]*types.CommunityReport, error) {
	if level < 0 {
		return s.reports, nil
	}

	levels := make(map[string]int, len(s.communities))
	for _, c := range s.communities {
		levels[c.ID] = c.Level
	}

	var matched []*types.CommunityReport
	for _, r := range s.reports {
		if lvl, ok := levels[r.CommunityID]; ok && lvl == level {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// Close implements KnowledgeStore.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
